package main

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/urfave/cli/v3"

	"github.com/mirfuse/mirfuse/internal/graph"
)

func inspectCmd() *cli.Command {
	var inPath string

	return &cli.Command{
		Name:  "inspect",
		Usage: "Summarise a graph: node/edge counts, op types, scale metadata",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "in",
				Aliases:     []string{"i"},
				Usage:       "input graph JSON (default: stdin)",
				Destination: &inPath,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
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

			fmt.Printf("nodes: %d\n", g.NodeCount())
			fmt.Printf("edges: %d\n", g.EdgeCount())

			byType := make(map[string]int)
			for _, n := range g.OpNodes() {
				byType[n.Op.Type]++
			}
			types := make([]string, 0, len(byType))
			for t := range byType {
				types = append(types, t)
			}
			sort.Strings(types)
			fmt.Println("ops:")
			for _, t := range types {
				fmt.Printf("  %-48s %d\n", t, byType[t])
			}

			fmt.Println("quantized ops:")
			for _, n := range g.OpNodes() {
				enabled, _ := n.Op.AttrBool("enable_int8")
				if !enabled && len(n.Op.InputScales) == 0 {
					continue
				}
				fmt.Printf("  %s enable_int8=%v\n", n.ID(), enabled)
				names := make([]string, 0, len(n.Op.InputScales))
				for name := range n.Op.InputScales {
					names = append(names, name)
				}
				sort.Strings(names)
				for _, name := range names {
					scales := n.Op.InputScales[name]
					dtype := "?"
					if t, err := sc.FindTensor(name); err == nil {
						dtype = t.DType().String()
					}
					fmt.Printf("    %s: %d scale(s), dtype=%s\n", name, len(scales), dtype)
				}
			}
			return nil
		},
	}
}
