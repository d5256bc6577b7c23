package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"

	"wstcp/internal/proxy"
)

func main() {
	cmd := &cli.Command{
		Name:                  "wstcp",
		Usage:                 "WebSocket-to-TCP proxy",
		ArgsUsage:             "REAL_SERVER_ADDR",
		Flags:                 flags(),
		EnableShellCompletion: true,
		Action:                run,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "wstcp: %v\n", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "bind-addr",
			Value: "0.0.0.0:13892",
			Usage: "address to accept WebSocket connections on",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "one of: debug, info, warning, error",
		},
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("exactly one positional argument, REAL_SERVER_ADDR, is required", 1)
	}
	upstreamAddr := cmd.Args().First()

	level, err := zerolog.ParseLevel(logLevelName(cmd.String("log-level")))
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid --log-level: %v", err), 1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &proxy.Server{
		BindAddr:     cmd.String("bind-addr"),
		UpstreamAddr: upstreamAddr,
		Logger:       logger,
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("server exited: %w", err)
	}
	return nil
}

// logLevelName normalizes this proxy's "warning" spelling to zerolog's
// "warn".
func logLevelName(name string) string {
	if name == "warning" {
		return "warn"
	}
	return name
}
