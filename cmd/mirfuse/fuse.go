package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/logger"
	"github.com/mirfuse/mirfuse/internal/pass"
)

func fuseCmd() *cli.Command {
	var (
		inPath  string
		outPath string
	)

	return &cli.Command{
		Name:  "fuse",
		Usage: "Run the quantization rewrite pipeline over a graph",
		Flags: append(pipelineFlags(),
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "input graph JSON (default: stdin)",
				Destination: &inPath,
			},
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output graph JSON (default: stdout)",
				Destination: &outPath,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			in := os.Stdin
			if inPath != "" {
				f, err := os.Open(inPath)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			g, sc, err := graph.Decode(in)
			if err != nil {
				return err
			}
			before := g.NodeCount()

			cfg := pipelineConfig()
			if err := pass.Run(ctx, cfg, g, sc); err != nil {
				return fmt.Errorf("fuse: %w", err)
			}
			log.Info("pipeline finished",
				"nodes_before", before,
				"nodes_after", g.NodeCount(),
				"edges", g.EdgeCount())

			out := os.Stdout
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return graph.Encode(out, g, sc)
		},
	}
}

// pipelineConfig merges pipeline flags over the config file values.
func pipelineConfig() pass.Config {
	cfg := pass.Config{
		Rules:            fileConfig.Rules,
		QuantizedOpTypes: fileConfig.QuantizedOpTypes,
		DynamicQuantOps:  fileConfig.DynamicQuantOps,
	}
	if len(rulesFlag) > 0 {
		cfg.Rules = rulesFlag
	}
	if len(opTypes) > 0 {
		cfg.QuantizedOpTypes = opTypes
	}
	return cfg
}
