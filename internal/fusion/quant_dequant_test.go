package fusion

import (
	"errors"
	"testing"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// weightMarkerModel is a conv2d whose weight passes through a fused
// quantize-dequantize marker of the abs-max variant.
func weightMarkerModel(consumerType string, weightShape []int64, weightData []float32) *graph.Model {
	weightArg := WeightArgName(consumerType)
	inArg, outArg := "Input", "Output"
	if consumerType == OpMul || consumerType == OpMatmul {
		inArg, outArg = "X", "Out"
	}
	return &graph.Model{
		Ops: []graph.ModelOp{
			{
				Type:    OpFakeQuantDequantAbsMax,
				Inputs:  map[string][]string{"X": {"w"}},
				Outputs: map[string][]string{"Out": {"w_q"}, "OutScale": {"w_scale"}},
				Attrs:   map[string]any{"bit_length": 8},
			},
			{
				Type:    consumerType,
				Inputs:  map[string][]string{inArg: {"act"}, weightArg: {"w_q"}},
				Outputs: map[string][]string{outArg: {"out"}},
			},
		},
		Vars: []graph.ModelVar{
			{Name: "w", IsWeight: true, Shape: weightShape, DataF32: weightData},
			{Name: "w_scale", Shape: []int64{1}, DataF32: []float32{0}},
		},
	}
}

func applyQuantDequant(t *testing.T, m *graph.Model, opType string) (*graph.Graph, *scope.Scope) {
	t.Helper()
	g, sc := mustBuild(t, m)
	f := NewQuantDequantOpFuser(opType)
	matches := pattern.FindMatches(g, f.BuildPattern())
	if len(matches) != 1 {
		t.Fatalf("matches: got %d, want 1", len(matches))
	}
	if err := f.Rewrite(g, sc, matches[0]); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	return g, sc
}

func TestQuantDequantOpFuserWeightConv(t *testing.T) {
	// Weight absmax 2.0, bit length 8 -> scale 2/127. Conv quant axis is 0,
	// so the scale vector has dim0 = 4 entries.
	data := constWeights(4*3*3*3, 0.5)
	data[7] = -2.0
	m := weightMarkerModel(OpConv2d, []int64{4, 3, 3, 3}, data)
	g, sc := applyQuantDequant(t, m, OpFakeQuantDequantAbsMax)

	conv := opOfType(t, g, OpConv2d)
	if got := conv.Op.Input("Filter"); len(got) != 1 || got[0] != "w" {
		t.Fatalf("Filter: got %v, want [w]", got)
	}
	scales, ok := conv.Op.InputScale("w")
	if !ok || len(scales) != 4 {
		t.Fatalf("weight scales: got %d entries (%v), want 4", len(scales), ok)
	}
	wantScale := float32(2.0) / 127
	for _, s := range scales {
		assertClose(t, s, wantScale, 1e-6)
	}
	if enabled, _ := conv.Op.AttrBool("enable_int8"); !enabled {
		t.Fatal("enable_int8 not set")
	}

	w, err := sc.FindTensor("w")
	if err != nil {
		t.Fatalf("FindTensor(w): %v", err)
	}
	if w.DType() != scope.DTypeInt8 {
		t.Fatalf("weight dtype: got %v, want int8", w.DType())
	}
	// round(-2.0 / (2/127)) = -127
	if got := w.Int8s()[7]; got != -127 {
		t.Fatalf("weight element: got %d, want -127", got)
	}

	// Marker, output var and output scale var are gone.
	if g.VarNode("w_q") != nil || g.VarNode("w_scale") != nil {
		t.Fatal("marker variables survived")
	}
}

func TestQuantDequantOpFuserWeightAxisForMul(t *testing.T) {
	// Quant axis for mul is 1: weight [6, 10] -> 10 scale entries.
	m := weightMarkerModel(OpMul, []int64{6, 10}, constWeights(60, 1))
	g, _ := applyQuantDequant(t, m, OpFakeQuantDequantAbsMax)
	mul := opOfType(t, g, OpMul)
	scales, _ := mul.Op.InputScale("w")
	if len(scales) != 10 {
		t.Fatalf("weight scales: got %d entries, want 10", len(scales))
	}
}

func TestQuantDequantOpFuserTransposeConvNotConverted(t *testing.T) {
	// conv2d_transpose gets a scale vector along axis 1 but keeps float
	// weights: the in-place conversion covers mul/conv2d/depthwise only.
	m := weightMarkerModel(OpConv2dTranspose, []int64{3, 5, 2, 2}, constWeights(60, 1))
	g, sc := applyQuantDequant(t, m, OpFakeQuantDequantAbsMax)
	tconv := opOfType(t, g, OpConv2dTranspose)
	scales, _ := tconv.Op.InputScale("w")
	if len(scales) != 5 {
		t.Fatalf("weight scales: got %d entries, want 5", len(scales))
	}
	if enabled, _ := tconv.Op.AttrBool("enable_int8"); enabled {
		t.Fatal("enable_int8 set for conv2d_transpose")
	}
	w, _ := sc.FindTensor("w")
	if w.Float32s() == nil {
		t.Fatal("weight converted although consumer is conv2d_transpose")
	}
}

func TestQuantDequantOpFuserActivation(t *testing.T) {
	m := &graph.Model{
		Ops: []graph.ModelOp{
			{
				Type:    OpFakeQuantDequantMovingAvgAbsMax,
				Inputs:  map[string][]string{"X": {"act"}, "InScale": {"in_scale"}},
				Outputs: map[string][]string{"Out": {"act_q"}, "OutScale": {"out_scale"}},
				Attrs:   map[string]any{"bit_length": 8},
			},
			{
				Type:    OpConv2d,
				Inputs:  map[string][]string{"Input": {"act_q"}, "Filter": {"w"}},
				Outputs: map[string][]string{"Output": {"out"}},
			},
		},
		Vars: []graph.ModelVar{
			{Name: "act", Shape: []int64{1, 3, 8, 8}},
			{Name: "out_scale", Shape: []int64{1}, DataF32: []float32{12.7}},
		},
	}
	g, sc := mustBuild(t, m)
	nodesBefore := g.NodeCount()

	f := NewQuantDequantOpFuser(OpFakeQuantDequantMovingAvgAbsMax)
	matches := pattern.FindMatches(g, f.BuildPattern())
	if len(matches) != 1 {
		t.Fatalf("matches: got %d, want 1", len(matches))
	}
	if err := f.Rewrite(g, sc, matches[0]); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	// Marker op, both scale vars and the marker output removed.
	if got := nodesBefore - g.NodeCount(); got != 4 {
		t.Fatalf("removed nodes: got %d, want 4", got)
	}
	conv := opOfType(t, g, OpConv2d)
	scales, ok := conv.Op.InputScale("act")
	if !ok || len(scales) != 1 {
		t.Fatalf("activation scale: got %v (%v)", scales, ok)
	}
	assertClose(t, scales[0], 12.7/127, 1e-6)
	if enabled, _ := conv.Op.AttrBool("enable_int8"); enabled {
		t.Fatal("enable_int8 set by activation path")
	}
}

func TestQuantDequantOpFuserSubtypeInvariant(t *testing.T) {
	// A weight input under the moving-average subtype violates the rule's
	// precondition.
	m := weightMarkerModel(OpConv2d, []int64{2, 2, 1, 1}, constWeights(4, 1))
	m.Ops[0].Type = OpFakeQuantDequantMovingAvgAbsMax
	m.Ops[0].Inputs["InScale"] = []string{"in_scale"}
	g, sc := mustBuild(t, m)

	f := NewQuantDequantOpFuser(OpFakeQuantDequantMovingAvgAbsMax)
	matches := pattern.FindMatches(g, f.BuildPattern())
	if len(matches) != 1 {
		t.Fatalf("matches: got %d, want 1", len(matches))
	}
	err := f.Rewrite(g, sc, matches[0])
	if err == nil {
		t.Fatal("expected invariant violation")
	}
	if !errors.Is(err, ErrInvariant) {
		t.Fatalf("want ErrInvariant, got %v", err)
	}
}
