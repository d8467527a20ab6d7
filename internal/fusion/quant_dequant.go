package fusion

import (
	"fmt"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// QuantDequantOpFuser eliminates a fused quantize-dequantize marker. For a
// weight input the threshold is the abs-max of the weight data itself; for an
// activation it is the moving-average threshold tracked during training and
// stored in the output scale tensor. The derived scale moves onto every
// consumer of the marker's output.
type QuantDequantOpFuser struct {
	quantDequantOpType string
}

// NewQuantDequantOpFuser creates the rule for one quantize-dequantize
// operator type.
func NewQuantDequantOpFuser(quantDequantOpType string) *QuantDequantOpFuser {
	return &QuantDequantOpFuser{quantDequantOpType: quantDequantOpType}
}

func (f *QuantDequantOpFuser) BuildPattern() *pattern.Pattern {
	p := pattern.New()
	input := p.VarNode("input_var").AssertIsOpInput(f.quantDequantOpType, "X")
	quantDequant := p.OpNode("quant_dequant", f.quantDequantOpType)
	outputScale := p.VarNode("output_scale").AssertIsOpOutput(f.quantDequantOpType, "OutScale")
	output := p.VarNode("output_var").AssertIsOpOutput(f.quantDequantOpType, "Out")

	if f.quantDequantOpType == OpFakeQuantDequantMovingAvgAbsMax {
		inputScale := p.VarNode("input_scale").AssertIsOpInput(f.quantDequantOpType, "InScale")
		p.LinksFrom(quantDequant, inputScale, input)
	} else {
		p.LinksFrom(quantDequant, input)
	}
	p.LinksFrom(outputScale, quantDequant)
	p.LinksFrom(output, quantDequant)
	return p
}

func (f *QuantDequantOpFuser) Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error {
	input := m.At("input_var")
	quantDequant := m.At("quant_dequant")
	outputScale := m.At("output_scale")
	output := m.At("output_var")

	inputName := input.Var.Name
	outputName := output.Var.Name
	inputIsWeight := input.Var.IsWeight

	inputTensor, err := sc.FindTensor(inputName)
	if err != nil {
		return fmt.Errorf("input tensor: %w", err)
	}
	var threshold float32
	if inputIsWeight {
		if f.quantDequantOpType != OpFakeQuantDequantAbsMax {
			return invariantf("quant_dequant type of weight %s should be %s, got %s",
				inputName, OpFakeQuantDequantAbsMax, f.quantDequantOpType)
		}
		threshold = findAbsMax(inputTensor.Float32s())
	} else {
		if f.quantDequantOpType != OpFakeQuantDequantMovingAvgAbsMax {
			return invariantf("quant_dequant type of activation %s should be %s, got %s",
				inputName, OpFakeQuantDequantMovingAvgAbsMax, f.quantDequantOpType)
		}
		threshold, err = scalarScale(sc, outputScale.Var.Name)
		if err != nil {
			return err
		}
	}
	bitLength, err := requireAttrInt(quantDequant.Op, "bit_length")
	if err != nil {
		return err
	}
	scale := threshold / quantRange(bitLength)

	for _, quantized := range output.OutLinks() {
		desc := quantized.Op
		desc.UpdateAllInputs(outputName, inputName)
		desc.SetAttr("bit_length", bitLength)

		if inputIsWeight {
			// The quant axis of conv2d and depthwise_conv2d is 0; the quant
			// axis of conv2d_transpose, mul and matmul is 1.
			opType := desc.Type
			quantAxis := 1
			if opType == OpConv2d || opType == OpDepthwiseConv2d {
				quantAxis = 0
			}
			scaleSize := int(inputTensor.Dim(quantAxis))
			desc.SetInputScale(inputName, repeat(scale, scaleSize))
			// TODO: extend the in-place conversion to conv2d_transpose and
			// matmul consumers.
			if opType == OpMul || opType == OpConv2d || opType == OpDepthwiseConv2d {
				desc.SetAttr("enable_int8", true)
				if inputTensor.DType() == scope.DTypeFloat32 {
					quantizeTensorInPlace(inputTensor, scale)
				}
			}
		} else {
			desc.SetInputScale(inputName, []float32{scale})
		}
		g.Link(input, quantized)
	}

	remove := map[*graph.Node]bool{
		quantDequant: true,
		outputScale:  true,
		output:       true,
	}
	if f.quantDequantOpType == OpFakeQuantDequantMovingAvgAbsMax {
		remove[m.At("input_scale")] = true
	}
	return g.SafeRemoveNodes(remove)
}
