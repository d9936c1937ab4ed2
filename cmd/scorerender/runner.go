package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"score-render/adapter"
	"score-render/client"
	"score-render/codec"
	"score-render/config"
	"score-render/loadbalance"
	"score-render/logging"
	"score-render/middleware"
	"score-render/registry"
	"score-render/score"
	"score-render/worker"
)

// Runner holds the dependencies shared by every command.
type Runner struct {
	config     *config.Config
	configPath string
	logger     *log.Logger
	output     io.Writer
	input      io.Reader
	registry   registry.Registry // overrides the configured registry when set
	loader     worker.Loader     // overrides the configured toolkit binary when set
}

// RunnerOpts configures a Runner. Zero fields fall back to defaults.
type RunnerOpts struct {
	Config     *config.Config
	ConfigPath string
	Logger     *log.Logger
	Output     io.Writer
	Input      io.Reader
	Registry   registry.Registry
	Loader     worker.Loader
}

// NewRunner creates a runner from opts.
func NewRunner(opts RunnerOpts) *Runner {
	r := &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		logger:     opts.Logger,
		output:     opts.Output,
		input:      opts.Input,
		registry:   opts.Registry,
		loader:     opts.Loader,
	}
	if r.logger == nil {
		r.logger = logging.New(os.Stderr, "info")
	}
	if r.output == nil {
		r.output = os.Stdout
	}
	if r.input == nil {
		r.input = os.Stdin
	}
	return r
}

// Setup loads the configuration named by --config unless one was injected.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if path := cmd.String("config"); path != "" {
		r.configPath = path
	}
	if r.config == nil {
		cfg, err := config.LoadOrDefault(r.configPath)
		if err != nil {
			return ctx, err
		}
		r.config = cfg
		r.logger.SetLevel(levelOf(cfg.Log.Level))
	}
	if lvl := cmd.String("log-level"); lvl != "" {
		r.logger.SetLevel(levelOf(lvl))
	}
	return ctx, nil
}

func levelOf(name string) log.Level {
	lvl, err := log.ParseLevel(name)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// newRegistry returns the injected registry, a static one built from
// registry.hosts, or an etcd registry. release frees it.
func (r *Runner) newRegistry() (reg registry.Registry, release func(), err error) {
	if r.registry != nil {
		return r.registry, func() {}, nil
	}
	rc := r.config.Registry
	switch rc.Kind {
	case "etcd":
		etcd, err := registry.NewEtcdRegistry(rc.Endpoints, rc.DialTimeout.Duration)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to etcd: %w", err)
		}
		return etcd, func() { etcd.Close() }, nil
	default:
		instances := make([]registry.Instance, 0, len(rc.Hosts))
		for _, host := range rc.Hosts {
			instances = append(instances, registry.NewInstance(host, 10, ""))
		}
		return registry.NewMemoryRegistry(registry.ServiceName, instances...), func() {}, nil
	}
}

// newClient builds a caller from the [client] section.
func (r *Runner) newClient(reg registry.Registry) (*client.Client, error) {
	cc := r.config.Client
	ct, err := codec.ParseType(cc.Codec)
	if err != nil {
		return nil, err
	}
	balancer, err := loadbalance.New(cc.Balancer)
	if err != nil {
		return nil, err
	}
	logger := logging.Component(r.logger, "client")
	opts := []client.Option{
		client.WithCodec(ct),
		client.WithBalancer(balancer),
		client.WithPoolSize(cc.PoolSize),
		client.WithDialTimeout(r.config.Registry.DialTimeout.Duration),
		client.WithLogger(logger),
		client.WithMiddleware(middleware.LoggingMiddleware(logger)),
	}
	if cc.ReadyTimeout.Duration > 0 {
		opts = append(opts, client.WithReadyTimeout(cc.ReadyTimeout.Duration))
	}
	if cc.CallTimeout.Duration > 0 {
		opts = append(opts,
			client.WithMiddleware(middleware.TimeOutMiddleware(cc.CallTimeout.Duration)),
			client.WithSessionMiddleware(middleware.TimeOutMiddleware(cc.CallTimeout.Duration)),
		)
	}
	if cc.Retries > 0 {
		opts = append(opts, client.WithMiddleware(middleware.RetryMiddleware(cc.Retries, cc.RetryDelay.Duration, logger)))
	}
	return client.NewClient(reg, opts...), nil
}

// newSite builds the site client, resuming session when it is non-empty.
func (r *Runner) newSite(cmd *cli.Command) (*score.Site, error) {
	base := cmd.String("site")
	if base == "" {
		base = r.config.Site.URL
	}
	opts := []score.SiteOption{score.WithSiteLogger(logging.Component(r.logger, "site"))}
	if d := r.config.Site.Timeout.Duration; d > 0 {
		opts = append(opts, score.WithTimeout(d))
	}
	site, err := score.NewSite(base, opts...)
	if err != nil {
		return nil, err
	}
	if id := cmd.String("session"); id != "" {
		site.SetSession(id)
	}
	return site, nil
}

// parseOptions turns name=value pairs into toolkit options. Values that parse
// as JSON keep their type; anything else is a string.
func parseOptions(pairs []string) (adapter.Options, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	opts := make(adapter.Options, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("option %q: want name=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		opts[name] = value
	}
	return opts, nil
}

// parseParams turns param=value arguments into command parameters.
func parseParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, arg := range args {
		name, value, ok := strings.Cut(arg, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("parameter %q: want name=value", arg)
		}
		params[name] = value
	}
	return params, nil
}

// openOutput returns the file at path, or the runner's output when path is empty.
func (r *Runner) openOutput(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{r.output}, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func writeJSONTo(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// callContext bounds a one-shot command by the configured call timeout.
func (r *Runner) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if d := r.config.Client.CallTimeout.Duration; d > 0 {
		return context.WithTimeout(ctx, d+5*time.Second)
	}
	return context.WithCancel(ctx)
}
