package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/example/roombooking/internal/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(os.Stdout).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// appState carries what Before resolves for every command.
type appState struct {
	cfg    config.Config
	logger *slog.Logger
}

func newApp(out io.Writer) *cli.App {
	rt := &appState{}

	return &cli.App{
		Name:  "roombooking",
		Usage: "meeting room booking service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to a YAML configuration file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.BoolFlag{
				Name:    "debug",
				Usage:   "human readable debug logging",
				EnvVars: []string{config.EnvPrefix + "DEBUG"},
			},
		},
		Before: func(cctx *cli.Context) error {
			rt.logger = newLogger(out, cctx.Bool("debug"))
			cfg, err := config.Load(cctx.String("config"))
			if err != nil {
				return err
			}
			rt.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "run the HTTP API and the auto-cancellation sweeper",
				Action: func(cctx *cli.Context) error {
					return serve(cctx.Context, rt.cfg, rt.logger)
				},
			},
			{
				Name:  "sweep",
				Usage: "auto-cancel expired bookings once and exit",
				Action: func(cctx *cli.Context) error {
					n, err := sweepOnce(cctx.Context, rt.cfg, rt.logger)
					if err != nil {
						return err
					}
					fmt.Fprintf(cctx.App.Writer, "auto-cancelled %d booking(s)\n", n)
					return nil
				},
			},
			{
				Name:  "migrate",
				Usage: "apply pending SQLite schema migrations",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "status", Usage: "report migration state without applying"},
				},
				Action: func(cctx *cli.Context) error {
					return migrate(cctx.Context, rt.cfg, rt.logger, cctx.Bool("status"), cctx.App.Writer)
				},
			},
		},
		Writer:    out,
		ErrWriter: out,
	}
}

func newLogger(out io.Writer, debug bool) *slog.Logger {
	if debug {
		return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: slog.LevelInfo}))
}
