package fusion

import (
	"testing"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
)

// deleteQuantModel is a moving-average fake-quantize op feeding one conv2d.
func deleteQuantModel(bitLength int, scaleValue float32) *graph.Model {
	return &graph.Model{
		Ops: []graph.ModelOp{
			{
				Type:    OpFakeQuantMovingAvgAbsMax,
				Inputs:  map[string][]string{"X": {"act"}, "InScale": {"in_scale"}},
				Outputs: map[string][]string{"Out": {"act_q"}, "OutScale": {"out_scale"}},
				Attrs:   map[string]any{"bit_length": bitLength},
			},
			{
				Type:    OpConv2d,
				Inputs:  map[string][]string{"Input": {"act_q"}, "Filter": {"w"}},
				Outputs: map[string][]string{"Output": {"out"}},
			},
		},
		Vars: []graph.ModelVar{
			{Name: "out_scale", Shape: []int64{1}, DataF32: []float32{scaleValue}},
		},
	}
}

func TestDeleteQuantOpFuser(t *testing.T) {
	const bits = 8
	const rawScale = float32(6.35)
	g, sc := mustBuild(t, deleteQuantModel(bits, rawScale))
	nodesBefore := g.NodeCount()

	f := NewDeleteQuantOpFuser(OpFakeQuantMovingAvgAbsMax)
	matches := pattern.FindMatches(g, f.BuildPattern())
	if len(matches) != 1 {
		t.Fatalf("matches: got %d, want 1", len(matches))
	}
	if err := f.Rewrite(g, sc, matches[0]); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	// 2 scale vars + 1 op + 1 quantized output var removed.
	if got := nodesBefore - g.NodeCount(); got != 4 {
		t.Fatalf("removed nodes: got %d, want 4", got)
	}

	conv := opOfType(t, g, OpConv2d)
	if got := conv.Op.Input("Input"); len(got) != 1 || got[0] != "act" {
		t.Fatalf("consumer input: got %v, want [act]", got)
	}
	scales, ok := conv.Op.InputScale("act")
	if !ok || len(scales) != 1 {
		t.Fatalf("consumer scale: got %v (%v)", scales, ok)
	}
	assertClose(t, scales[0], rawScale/127, 1e-7)
	if bl, ok := conv.Op.AttrInt("bit_length"); !ok || bl != bits {
		t.Fatalf("bit_length on consumer: got %d (%v)", bl, ok)
	}

	// The original activation now feeds the consumer directly.
	act := g.VarNode("act")
	linked := false
	for _, n := range act.OutLinks() {
		if n == conv {
			linked = true
		}
	}
	if !linked {
		t.Fatal("original activation not linked to consumer")
	}
}

func TestDeleteQuantOpFuserScaleDerivation(t *testing.T) {
	for _, bits := range []int{2, 4, 8, 16} {
		g, sc := mustBuild(t, deleteQuantModel(bits, 3.0))
		f := NewDeleteQuantOpFuser(OpFakeQuantMovingAvgAbsMax)
		matches := pattern.FindMatches(g, f.BuildPattern())
		if len(matches) != 1 {
			t.Fatalf("bits=%d: matches %d", bits, len(matches))
		}
		if err := f.Rewrite(g, sc, matches[0]); err != nil {
			t.Fatalf("bits=%d: %v", bits, err)
		}
		conv := opOfType(t, g, OpConv2d)
		scales, _ := conv.Op.InputScale("act")
		want := 3.0 / quantRange(bits)
		assertClose(t, scales[0], want, 1e-7)
	}
}

func TestDeleteQuantOpFuserMissingScaleTensor(t *testing.T) {
	m := deleteQuantModel(8, 1)
	m.Vars = nil // no out_scale tensor in storage
	g, sc := mustBuild(t, m)

	f := NewDeleteQuantOpFuser(OpFakeQuantMovingAvgAbsMax)
	matches := pattern.FindMatches(g, f.BuildPattern())
	if len(matches) != 1 {
		t.Fatalf("matches: got %d, want 1", len(matches))
	}
	if err := f.Rewrite(g, sc, matches[0]); err == nil {
		t.Fatal("expected lookup error for missing scale tensor")
	}
}

func TestDeleteQuantOpFuserIdempotentOnNoMatch(t *testing.T) {
	m := &graph.Model{
		Ops: []graph.ModelOp{{
			Type:    OpConv2d,
			Inputs:  map[string][]string{"Input": {"act"}, "Filter": {"w"}},
			Outputs: map[string][]string{"Output": {"out"}},
			Attrs:   map[string]any{"bit_length": 8},
		}},
	}
	g, _ := mustBuild(t, m)
	nodes, edges := g.NodeCount(), g.EdgeCount()

	f := NewDeleteQuantOpFuser(OpFakeQuantMovingAvgAbsMax)
	if matches := pattern.FindMatches(g, f.BuildPattern()); len(matches) != 0 {
		t.Fatalf("matches on plain graph: %d", len(matches))
	}
	if g.NodeCount() != nodes || g.EdgeCount() != edges {
		t.Fatal("pattern discovery mutated the graph")
	}
}
