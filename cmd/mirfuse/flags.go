package main

import "github.com/urfave/cli/v3"

var (
	logLevel  string
	logFormat string
	rulesFlag []string
	opTypes   []string
)

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log output format (text, json)",
			Value:       "text",
			Destination: &logFormat,
		},
	}
}

func pipelineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:        "rule",
			Usage:       "rewrite rule to apply (repeatable; default: all)",
			Destination: &rulesFlag,
		},
		&cli.StringSliceFlag{
			Name:        "op-type",
			Usage:       "quantized operator type to target (repeatable)",
			Destination: &opTypes,
		},
	}
}
