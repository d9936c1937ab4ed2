package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"

	"score-render/config"
	"score-render/logging"
	"score-render/score"
)

// editor wires a site session to a worker session keyed by the site's session
// id, so every render of one site session lands on the same host.
func (r *Runner) editor(ctx context.Context, cmd *cli.Command, fresh bool) (*score.Editor, *score.Site, func(), error) {
	site, err := r.newSite(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	switch {
	case site.SessionID() != "":
	case fresh:
		if _, err := site.Bootstrap(ctx); err != nil {
			return nil, nil, nil, err
		}
	default:
		return nil, nil, nil, errors.New("no site session: pass --session with the id printed by upload")
	}

	opts, err := parseOptions(cmd.StringSlice("option"))
	if err != nil {
		return nil, nil, nil, err
	}
	reg, release, err := r.newRegistry()
	if err != nil {
		return nil, nil, nil, err
	}
	c, err := r.newClient(reg)
	if err != nil {
		release()
		return nil, nil, nil, err
	}
	s, err := c.Session(ctx, site.SessionID())
	if err != nil {
		c.Close()
		release()
		return nil, nil, nil, err
	}
	cleanup := func() {
		s.Close()
		c.Close()
		release()
	}
	return score.NewEditor(site, s, opts, logging.Component(r.logger, "editor")), site, cleanup, nil
}

// show writes the rendered view. Console messages go to the log.
func (r *Runner) show(view score.View, path string) error {
	if view.Console != "" {
		r.logger.Warn(view.Console)
	}
	if view.Markup == "" {
		return nil
	}
	out, err := r.openOutput(path)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.WriteString(out, view.Markup)
	return err
}

// Upload sends a score to the site and renders what the site returns.
func (r *Runner) Upload(ctx context.Context, cmd *cli.Command) error {
	path := cmd.Args().First()
	if path == "" {
		return errors.New("upload needs a score file")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open score: %w", err)
	}
	defer f.Close()

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	ed, site, cleanup, err := r.editor(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := ed.Open(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}
	r.logger.Info("site session", "session", site.SessionID())
	return r.show(view, cmd.String("output"))
}

// Command applies an editing command to the session's score and renders the result.
func (r *Runner) Command(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return errors.New("command needs a command name")
	}
	params, err := parseParams(cmd.Args().Tail())
	if err != nil {
		return err
	}
	command, err := score.ParseCommand(name, params)
	if err != nil {
		return err
	}
	// Fail before opening any session
	if _, err := command.Form(); err != nil {
		return err
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	ed, _, cleanup, err := r.editor(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer cleanup()

	view, err := ed.Apply(ctx, command)
	if err != nil {
		return err
	}
	return r.show(view, cmd.String("output"))
}

// Download saves the session's score in the requested format.
func (r *Runner) Download(ctx context.Context, cmd *cli.Command) error {
	format, err := score.ParseFormat(cmd.Args().First())
	if err != nil {
		return err
	}
	site, err := r.newSite(cmd)
	if err != nil {
		return err
	}
	if site.SessionID() == "" {
		return errors.New("no site session: pass --session with the id printed by upload")
	}

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	data, err := site.Download(ctx, format)
	if err != nil {
		return err
	}

	path := cmd.String("output")
	if path == "" {
		path = "Score" + format.Extension()
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	r.logger.Info("downloaded", "format", format, "path", path, "bytes", len(data))
	return nil
}

// InitConfig writes the example configuration to --config.
func (r *Runner) InitConfig(ctx context.Context, cmd *cli.Command) error {
	if err := config.Write(r.configPath); err != nil {
		return err
	}
	r.logger.Info("configuration written", "path", r.configPath)
	return nil
}
