package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mirfuse/mirfuse/internal/logger"
)

func main() {
	app := &cli.Command{
		Name:  "mirfuse",
		Usage: "Quantization graph-rewrite toolkit",
		Flags: commonFlags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			cfg, err := loadConfig()
			if err != nil {
				return ctx, err
			}
			applyConfig(cmd, cfg)
			return logger.WithContext(ctx, buildLogger()), nil
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			fuseCmd(),
			inspectCmd(),
			serveCmd(),
			versionCmd(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogger picks the log output from the flags: pretty on an interactive
// terminal unless JSON was asked for.
func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	switch {
	case logFormat == "json":
		return logger.JSON(os.Stderr, level)
	case stderrIsTTY():
		return logger.Pretty(os.Stderr, level)
	default:
		return logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}
