package main

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"score-render/client"
	"score-render/message"
)

// Render loads a score into one worker and writes the requested output.
func (r *Runner) Render(ctx context.Context, cmd *cli.Command) error {
	data, err := r.readInput(cmd.Args().First())
	if err != nil {
		return err
	}
	opts, err := parseOptions(cmd.StringSlice("option"))
	if err != nil {
		return err
	}

	reg, release, err := r.newRegistry()
	if err != nil {
		return err
	}
	defer release()
	c, err := r.newClient(reg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	s, err := c.NewSession(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	if opts != nil {
		if err := s.SetOptions(ctx, opts); err != nil {
			return err
		}
	}
	ok, err := s.LoadData(ctx, data)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("the toolkit could not load the score")
	}

	out, err := r.openOutput(cmd.String("output"))
	if err != nil {
		return err
	}
	defer out.Close()

	switch to := cmd.String("to"); to {
	case "svg":
		svg, err := s.RenderToSVG(ctx, cmd.Int("page"))
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, svg)
		return err
	case "mei":
		mei, err := s.GetMEI(ctx, nil)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, mei)
		return err
	case "midi":
		encoded, err := s.RenderToMIDI(ctx)
		if err != nil {
			return err
		}
		midi, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("decode midi: %w", err)
		}
		_, err = out.Write(midi)
		return err
	case "timemap":
		timemap, err := s.RenderToTimemap(ctx, nil)
		if err != nil {
			return err
		}
		return writeJSONTo(out, timemap)
	default:
		return fmt.Errorf("unknown output %q: want svg, mei, midi or timemap", to)
	}
}

// ToolkitVersion prints the version reported by the first available worker.
func (r *Runner) ToolkitVersion(ctx context.Context, cmd *cli.Command) error {
	reg, release, err := r.newRegistry()
	if err != nil {
		return err
	}
	defer release()
	c, err := r.newClient(reg)
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, cancel := r.callContext(ctx)
	defer cancel()
	v, err := c.GetVersion(ctx)
	if err != nil {
		if re, ok := client.IsRemote(err); ok && re.FaultName() == message.FaultNotReady {
			return fmt.Errorf("worker has no toolkit loaded: %w", err)
		}
		return err
	}
	_, err = fmt.Fprintln(r.output, v)
	return err
}

// readInput reads path, or the runner's input for "" and "-".
func (r *Runner) readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(r.input)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read score: %w", err)
	}
	return string(data), nil
}
