package fusion

import (
	"fmt"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/registry"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// DequantOpFuser folds a per-tensor fake-dequantize operator into the
// quantized operator feeding it. The weight scale is recovered from the
// dequantize op's max_range attribute, the weight tensor is converted to
// int8 storage and a replacement operator node writes straight to the
// dequantize output.
type DequantOpFuser struct {
	quantizedOpType string
	factory         registry.Factory
}

// NewDequantOpFuser creates the rule for one quantized operator type.
func NewDequantOpFuser(factory registry.Factory, quantizedOpType string) *DequantOpFuser {
	return &DequantOpFuser{quantizedOpType: quantizedOpType, factory: factory}
}

func (f *DequantOpFuser) BuildPattern() *pattern.Pattern {
	weightArg := WeightArgName(f.quantizedOpType)
	p := pattern.New()
	input := p.VarNode("quantized_op_input").
		AssertIsOpInput(f.quantizedOpType, "").
		AsInput()
	weight := p.VarNode("quantized_op_weight").
		AssertIsOpInput(f.quantizedOpType, weightArg).
		AsInput()
	quantizedOp := p.OpNode("quantized_op", f.quantizedOpType).AsIntermediate()
	quantizedOpOut := p.VarNode("quantized_op_out").
		AssertIsOpOutput(f.quantizedOpType, "").
		AssertIsOpInput(OpFakeDequantMaxAbs, "X").
		AsIntermediate()
	dequantOp := p.OpNode("dequant_op", OpFakeDequantMaxAbs).AsIntermediate()
	dequantOpOut := p.VarNode("dequant_op_out").
		AssertIsOpOutput(OpFakeDequantMaxAbs, "Out").
		AsOutput()

	p.LinksFrom(quantizedOp, input, weight)
	p.LinksFrom(quantizedOpOut, quantizedOp)
	p.LinksFrom(dequantOp, quantizedOpOut)
	p.LinksFrom(dequantOpOut, dequantOp)
	return p
}

func (f *DequantOpFuser) Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error {
	input := m.At("quantized_op_input")
	weight := m.At("quantized_op_weight")
	quantizedOp := m.At("quantized_op")
	quantizedOpOut := m.At("quantized_op_out")
	dequantOp := m.At("dequant_op")
	dequantOpOut := m.At("dequant_op_out")
	weightName := weight.Var.Name

	bitLength, err := requireAttrInt(quantizedOp.Op, "bit_length")
	if err != nil {
		return err
	}
	rng := quantRange(bitLength)
	maxRange, err := requireAttrFloat(dequantOp.Op, "max_range")
	if err != nil {
		return err
	}
	// As: max_range = range * range / max(abs(weight))
	// So: wholeWeightScale
	//        = range * range / (range * range / max(abs(weight))) / range
	//        = max(abs(weight)) / range
	wholeWeightScale := rng * rng / maxRange / rng

	weightTensor, err := sc.FindTensor(weightName)
	if err != nil {
		return fmt.Errorf("weight tensor: %w", err)
	}

	desc := quantizedOp.Op.Clone()
	var weightScaleSize int
	switch {
	case isConvFamily(f.quantizedOpType):
		desc.SetInput("Input", []string{input.Var.Name})
		desc.SetOutput("Output", []string{dequantOpOut.Var.Name})
		// Conv weight shape: Cout x Cin x kh x kw; one scale slot per Cout.
		weightScaleSize = int(weightTensor.Dim(0))
	case isMulFamily(f.quantizedOpType):
		desc.SetInput("X", []string{input.Var.Name})
		desc.SetOutput("Out", []string{dequantOpOut.Var.Name})
		// Fc weight shape: Cin x Cout; one scale slot per Cout.
		weightScaleSize = int(weightTensor.Dim(1))
	default:
		return invariantf("op type %s has no weight convention", f.quantizedOpType)
	}

	desc.SetAttr("enable_int8", true)
	desc.SetInputScale(weightName, repeat(wholeWeightScale, weightScaleSize))

	truncateTensorInPlace(weightTensor)
	weightTensor.SetPersistable(true)
	weightTensor.SetDType(scope.DTypeInt8)

	newOp, err := f.factory.CreateOpNode(g, desc)
	if err != nil {
		return err
	}
	g.Link(input, newOp)
	g.Link(weight, newOp)
	g.Link(newOp, dequantOpOut)

	return g.SafeRemoveNodes(map[*graph.Node]bool{
		quantizedOp:    true,
		quantizedOpOut: true,
		dequantOp:      true,
	})
}
