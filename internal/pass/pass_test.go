package pass

import (
	"context"
	"math"
	"testing"

	"github.com/mirfuse/mirfuse/internal/fusion"
	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/registry"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// pipelineModel chains a fake-quantize marker, a convolution and a
// fake-dequantize marker, the shape a trained quantization-aware model
// arrives in.
func pipelineModel() *graph.Model {
	weightData := make([]float32, 4*2*1*1)
	for i := range weightData {
		weightData[i] = 63.5
	}
	return &graph.Model{
		Ops: []graph.ModelOp{
			{
				Type:    fusion.OpFakeQuantMovingAvgAbsMax,
				Inputs:  map[string][]string{"X": {"act"}, "InScale": {"in_scale"}},
				Outputs: map[string][]string{"Out": {"act_q"}, "OutScale": {"out_scale"}},
				Attrs:   map[string]any{"bit_length": 8},
			},
			{
				Type:    fusion.OpConv2d,
				Inputs:  map[string][]string{"Input": {"act_q"}, "Filter": {"w"}},
				Outputs: map[string][]string{"Output": {"conv_out"}},
				Attrs:   map[string]any{"bit_length": 8},
			},
			{
				Type:    fusion.OpFakeDequantMaxAbs,
				Inputs:  map[string][]string{"X": {"conv_out"}},
				Outputs: map[string][]string{"Out": {"final"}},
				Attrs:   map[string]any{"max_range": 127.0 * 127.0 / 63.5},
			},
		},
		Vars: []graph.ModelVar{
			{Name: "act", Shape: []int64{1, 2, 8, 8}},
			{Name: "out_scale", Shape: []int64{1}, DataF32: []float32{6.35}},
			{Name: "w", IsWeight: true, Shape: []int64{4, 2, 1, 1}, DataF32: weightData},
		},
	}
}

func buildPipeline(t *testing.T) (*graph.Graph, *scope.Scope) {
	t.Helper()
	g, sc, err := graph.Build(pipelineModel())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g, sc
}

func TestRunDefaultPipeline(t *testing.T) {
	g, sc := buildPipeline(t)
	if err := Run(context.Background(), Config{}, g, sc); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Both markers are gone: only the replacement conv and its three
	// variables remain.
	if got := g.NodeCount(); got != 4 {
		t.Fatalf("nodes after pipeline: got %d, want 4", got)
	}
	if got := g.EdgeCount(); got != 3 {
		t.Fatalf("edges after pipeline: got %d, want 3", got)
	}

	ops := g.OpNodes()
	if len(ops) != 1 || ops[0].Op.Type != fusion.OpConv2d {
		t.Fatalf("surviving ops: %v", ops)
	}
	conv := ops[0].Op
	if got := conv.Input("Input"); len(got) != 1 || got[0] != "act" {
		t.Fatalf("Input: got %v, want [act]", got)
	}
	if got := conv.Output("Output"); len(got) != 1 || got[0] != "final" {
		t.Fatalf("Output: got %v, want [final]", got)
	}
	if enabled, _ := conv.AttrBool("enable_int8"); !enabled {
		t.Fatal("enable_int8 not set")
	}

	// The activation scale set by the quant rule survives the conv
	// replacement done by the dequant rule.
	actScales, ok := conv.InputScale("act")
	if !ok || len(actScales) != 1 {
		t.Fatalf("activation scale: got %v (%v)", actScales, ok)
	}
	if math.Abs(float64(actScales[0]-6.35/127)) > 1e-6 {
		t.Fatalf("activation scale: got %v, want %v", actScales[0], 6.35/127)
	}
	weightScales, ok := conv.InputScale("w")
	if !ok || len(weightScales) != 4 {
		t.Fatalf("weight scales: got %d entries (%v), want 4", len(weightScales), ok)
	}
	if math.Abs(float64(weightScales[0]-0.5)) > 1e-6 {
		t.Fatalf("weight scale: got %v, want 0.5", weightScales[0])
	}

	w, err := sc.FindTensor("w")
	if err != nil {
		t.Fatalf("FindTensor(w): %v", err)
	}
	if w.DType() != scope.DTypeInt8 || !w.Persistable() {
		t.Fatalf("weight: dtype %v, persistable %v", w.DType(), w.Persistable())
	}
	if got := w.Int8s()[0]; got != 63 {
		t.Fatalf("weight element: got %d, want 63", got)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	g, sc := buildPipeline(t)
	ctx := context.Background()
	if err := Run(ctx, Config{}, g, sc); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	nodes, edges := g.NodeCount(), g.EdgeCount()
	if err := Run(ctx, Config{}, g, sc); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if g.NodeCount() != nodes || g.EdgeCount() != edges {
		t.Fatalf("second run changed the graph: %d/%d nodes, %d/%d edges",
			g.NodeCount(), nodes, g.EdgeCount(), edges)
	}
}

func TestRunUnknownRule(t *testing.T) {
	g, sc := buildPipeline(t)
	err := Run(context.Background(), Config{Rules: []string{"bogus"}}, g, sc)
	if err == nil {
		t.Fatal("expected error for unknown rule")
	}
}

func TestConfigFusersSelectsRules(t *testing.T) {
	cfg := Config{
		Rules:            []string{RuleDequant},
		QuantizedOpTypes: []string{fusion.OpConv2d, fusion.OpMul},
	}
	fusers, err := cfg.Fusers(registry.Default())
	if err != nil {
		t.Fatalf("Fusers: %v", err)
	}
	if len(fusers) != 2 {
		t.Fatalf("fusers: got %d, want 2", len(fusers))
	}
}

func TestDefaultConfigInstantiates(t *testing.T) {
	fusers, err := Default().Fusers(registry.Default())
	if err != nil {
		t.Fatalf("Fusers: %v", err)
	}
	if len(fusers) == 0 {
		t.Fatal("no fusers from default config")
	}
}
