// Package fusion implements the graph-rewrite rules that collapse
// fake-quantize annotations into int8 operator metadata. Each rule pairs a
// declarative subgraph pattern with a rewrite that derives quantization
// scales, attaches them to the surviving consumers and converts weight
// tensors to int8 storage.
package fusion

import (
	"errors"
	"fmt"
	"math"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// Operator type names of the quantization family.
const (
	OpConv2d          = "conv2d"
	OpDepthwiseConv2d = "depthwise_conv2d"
	OpConv2dTranspose = "conv2d_transpose"
	OpMul             = "mul"
	OpMatmul          = "matmul"

	OpFakeQuantAbsMax          = "fake_quantize_abs_max"
	OpFakeQuantRangeAbsMax     = "fake_quantize_range_abs_max"
	OpFakeQuantMovingAvgAbsMax = "fake_quantize_moving_average_abs_max"

	OpFakeDequantMaxAbs            = "fake_dequantize_max_abs"
	OpFakeChannelWiseDequantMaxAbs = "fake_channel_wise_dequantize_max_abs"

	OpFakeQuantDequantAbsMax          = "fake_quantize_dequantize_abs_max"
	OpFakeQuantDequantMovingAvgAbsMax = "fake_quantize_dequantize_moving_average_abs_max"
)

// ErrInvariant marks a structural precondition of a rewrite that does not
// hold in the input graph. It aborts the enclosing pass.
var ErrInvariant = errors.New("graph invariant violated")

// Fuser is the shared contract of all rewrite rules. BuildPattern is a pure
// declaration; Rewrite mutates the graph and scope for one match.
type Fuser interface {
	BuildPattern() *pattern.Pattern
	Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error
}

// WeightArgName maps an operator type to the conventional name of its weight
// argument slot. Unknown types map to "", meaning not applicable.
func WeightArgName(opType string) string {
	switch opType {
	case OpConv2d, OpDepthwiseConv2d, OpConv2dTranspose:
		return "Filter"
	case OpMul, OpMatmul:
		return "Y"
	}
	return ""
}

func isConvFamily(opType string) bool {
	return opType == OpConv2d || opType == OpDepthwiseConv2d || opType == OpConv2dTranspose
}

func isMulFamily(opType string) bool {
	return opType == OpMul || opType == OpMatmul
}

func invariantf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvariant)...)
}

func requireAttrInt(d *graph.OpDesc, key string) (int, error) {
	v, ok := d.AttrInt(key)
	if !ok {
		return 0, invariantf("op %s missing int attribute %q", d.Type, key)
	}
	return v, nil
}

func requireAttrFloat(d *graph.OpDesc, key string) (float32, error) {
	v, ok := d.AttrFloat(key)
	if !ok {
		return 0, invariantf("op %s missing float attribute %q", d.Type, key)
	}
	return v, nil
}

func requireAttrInts(d *graph.OpDesc, key string) ([]int, error) {
	v, ok := d.AttrInts(key)
	if !ok {
		return nil, invariantf("op %s missing int-list attribute %q", d.Type, key)
	}
	return v, nil
}

// quantRange returns the maximum representable magnitude of a signed integer
// of the given bit length under symmetric quantization: 2^(b-1) - 1.
func quantRange(bitLength int) float32 {
	return float32((int(1) << (bitLength - 1)) - 1)
}

// findAbsMax returns max(|v|) over the values.
func findAbsMax(vals []float32) float32 {
	var absMax float32
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		if v > absMax {
			absMax = v
		}
	}
	return absMax
}

// scalarScale reads the single calibration value out of a scale tensor.
func scalarScale(sc *scope.Scope, name string) (float32, error) {
	t, err := sc.FindTensor(name)
	if err != nil {
		return 0, fmt.Errorf("scale tensor: %w", err)
	}
	data := t.Float32s()
	if len(data) == 0 {
		return 0, invariantf("scale tensor %s is empty", name)
	}
	return data[0], nil
}

// repeat builds a scale vector of n copies of scale.
func repeat(scale float32, n int) []float32 {
	scales := make([]float32, n)
	for i := range scales {
		scales[i] = scale
	}
	return scales
}

// quantizeTensorInPlace converts a float32 tensor to int8 storage, rounding
// each element divided by scale. The original buffer is copied out before the
// storage is reallocated at the narrower width; source and destination share
// one backing slot, so the copy must complete first.
func quantizeTensorInPlace(t *scope.Tensor, scale float32) {
	var tmp scope.Tensor
	tmp.CopyFrom(t)
	t.Clear()

	src := tmp.Float32s()
	dst := t.MutableInt8s()
	for i := range dst {
		dst[i] = int8(math.Round(float64(src[i]) / float64(scale)))
	}
}

// truncateTensorInPlace converts a float32 tensor to int8 storage by a
// direct narrowing cast of each element, matching the per-tensor dequant
// rewrite. The elements are expected to already be scale normalised.
func truncateTensorInPlace(t *scope.Tensor) {
	var tmp scope.Tensor
	tmp.CopyFrom(t)
	t.Clear()

	src := tmp.Float32s()
	dst := t.MutableInt8s()
	for i := range dst {
		dst[i] = int8(src[i])
	}
}
