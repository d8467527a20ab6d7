// Package pass wires the quantization rewrite rules into a pipeline and
// applies them to a graph. Pattern discovery for a rule completes before any
// of its rewrites run, and matches within one rule application are disjoint.
package pass

import (
	"context"
	"fmt"
	"sort"

	"github.com/mirfuse/mirfuse/internal/fusion"
	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/logger"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/registry"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// Rule names accepted by Config.Rules.
const (
	RuleDeleteQuant        = "delete_quant"
	RuleDequant            = "dequant"
	RuleChannelWiseDequant = "channel_wise_dequant"
	RuleQuantDequant       = "quant_dequant"
	RuleDynamicQuant       = "dynamic_quant"
)

// Config selects which rules run and which operator types they target.
type Config struct {
	// Rules lists the rules to apply, in order. Empty means all, in the
	// canonical order below.
	Rules []string `yaml:"rules"`
	// QuantizedOpTypes are the int8-capable operator types the dequant rules
	// target. Empty means the conv and mul families.
	QuantizedOpTypes []string `yaml:"quantized_op_types"`
	// DynamicQuantOps maps operator types to the weight argument slot the
	// dynamic rule reads.
	DynamicQuantOps map[string]string `yaml:"dynamic_quant_ops"`
}

// Default returns the canonical pipeline configuration.
func Default() Config {
	return Config{
		Rules: []string{
			RuleDeleteQuant,
			RuleDequant,
			RuleChannelWiseDequant,
			RuleQuantDequant,
			RuleDynamicQuant,
		},
		QuantizedOpTypes: []string{
			fusion.OpConv2d,
			fusion.OpDepthwiseConv2d,
			fusion.OpConv2dTranspose,
			fusion.OpMul,
			fusion.OpMatmul,
		},
		DynamicQuantOps: map[string]string{
			fusion.OpMul:    "Y",
			fusion.OpMatmul: "Y",
		},
	}
}

// Fusers instantiates the configured rules.
func (c Config) Fusers(factory registry.Factory) ([]fusion.Fuser, error) {
	rules := c.Rules
	if len(rules) == 0 {
		rules = Default().Rules
	}
	opTypes := c.QuantizedOpTypes
	if len(opTypes) == 0 {
		opTypes = Default().QuantizedOpTypes
	}
	dynamicOps := c.DynamicQuantOps
	if dynamicOps == nil {
		dynamicOps = Default().DynamicQuantOps
	}

	var fusers []fusion.Fuser
	for _, rule := range rules {
		switch rule {
		case RuleDeleteQuant:
			// Only the quant types that carry an InScale input.
			for _, t := range []string{
				fusion.OpFakeQuantRangeAbsMax,
				fusion.OpFakeQuantMovingAvgAbsMax,
			} {
				fusers = append(fusers, fusion.NewDeleteQuantOpFuser(t))
			}
		case RuleDequant:
			for _, t := range opTypes {
				fusers = append(fusers, fusion.NewDequantOpFuser(factory, t))
			}
		case RuleChannelWiseDequant:
			for _, t := range opTypes {
				fusers = append(fusers, fusion.NewChannelWiseDequantOpFuser(factory, t))
			}
		case RuleQuantDequant:
			for _, t := range []string{
				fusion.OpFakeQuantDequantAbsMax,
				fusion.OpFakeQuantDequantMovingAvgAbsMax,
			} {
				fusers = append(fusers, fusion.NewQuantDequantOpFuser(t))
			}
		case RuleDynamicQuant:
			for _, t := range sortedKeys(dynamicOps) {
				fusers = append(fusers, fusion.NewDynamicQuantOpFuser(t, dynamicOps[t]))
			}
		default:
			return nil, fmt.Errorf("pass: unknown rule %q", rule)
		}
	}
	return fusers, nil
}

// Apply runs each fuser once over the graph: find all matches first, then
// rewrite them one by one. The first rewrite error aborts the pass.
func Apply(ctx context.Context, g *graph.Graph, sc *scope.Scope, fusers ...fusion.Fuser) error {
	log := logger.FromContext(ctx)
	for _, f := range fusers {
		p := f.BuildPattern()
		matches := pattern.FindMatches(g, p)
		for _, m := range matches {
			if err := f.Rewrite(g, sc, m); err != nil {
				return fmt.Errorf("%T: %w", f, err)
			}
		}
		if len(matches) > 0 {
			log.Debug("applied rewrite rule", "rule", fmt.Sprintf("%T", f), "matches", len(matches))
		}
	}
	return nil
}

// Run applies the configured pipeline to the graph.
func Run(ctx context.Context, cfg Config, g *graph.Graph, sc *scope.Scope) error {
	factory := registry.Default()
	fusers, err := cfg.Fusers(factory)
	if err != nil {
		return err
	}
	return Apply(ctx, g, sc, fusers...)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
