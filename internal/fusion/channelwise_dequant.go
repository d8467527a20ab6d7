package fusion

import (
	"fmt"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/registry"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// ChannelWiseDequantOpFuser folds a channel-wise fake-dequantize operator
// into the quantized operator feeding it. Unlike DequantOpFuser the scale
// vector is a true per-channel vector read from the dequantize op's channel
// scale tensor, one entry per output channel.
type ChannelWiseDequantOpFuser struct {
	quantizedOpType string
	factory         registry.Factory
}

// NewChannelWiseDequantOpFuser creates the rule for one quantized operator type.
func NewChannelWiseDequantOpFuser(factory registry.Factory, quantizedOpType string) *ChannelWiseDequantOpFuser {
	return &ChannelWiseDequantOpFuser{quantizedOpType: quantizedOpType, factory: factory}
}

func (f *ChannelWiseDequantOpFuser) BuildPattern() *pattern.Pattern {
	dequantOpType := OpFakeChannelWiseDequantMaxAbs
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
		AssertIsOpInput(dequantOpType, "X").
		AsIntermediate()
	// The activation scale var of the pair was already consumed by
	// DeleteQuantOpFuser; only the channel scale remains.
	channelScale := p.VarNode("dequant_op_channel_scale").
		AssertIsOpInput(dequantOpType, "Scales").
		AsIntermediate()
	dequantOp := p.OpNode("dequant_op", dequantOpType).AsIntermediate()
	dequantOpOut := p.VarNode("dequant_op_out").
		AssertIsOpOutput(dequantOpType, "Out").
		AsOutput()

	p.LinksFrom(quantizedOp, input, weight)
	p.LinksFrom(quantizedOpOut, quantizedOp)
	p.LinksFrom(dequantOp, quantizedOpOut, channelScale)
	p.LinksFrom(dequantOpOut, dequantOp)
	return p
}

func (f *ChannelWiseDequantOpFuser) Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error {
	input := m.At("quantized_op_input")
	weight := m.At("quantized_op_weight")
	quantizedOp := m.At("quantized_op")
	quantizedOpOut := m.At("quantized_op_out")
	channelScale := m.At("dequant_op_channel_scale")
	dequantOp := m.At("dequant_op")
	dequantOpOut := m.At("dequant_op_out")
	weightName := weight.Var.Name

	quantBits, err := requireAttrInts(dequantOp.Op, "quant_bits")
	if err != nil {
		return err
	}
	if len(quantBits) == 0 {
		return invariantf("op %s attribute quant_bits is empty", dequantOp.Op.Type)
	}
	rng := quantRange(quantBits[0])

	channelScaleTensor, err := sc.FindTensor(channelScale.Var.Name)
	if err != nil {
		return fmt.Errorf("channel scale tensor: %w", err)
	}
	channelScaleData := channelScaleTensor.Float32s()
	weightScale := make([]float32, len(channelScaleData))
	for i, s := range channelScaleData {
		weightScale[i] = s / rng
	}

	weightTensor, err := sc.FindTensor(weightName)
	if err != nil {
		return fmt.Errorf("weight tensor: %w", err)
	}

	desc := quantizedOp.Op.Clone()
	switch {
	case isConvFamily(f.quantizedOpType):
		desc.SetInput("Input", []string{input.Var.Name})
		desc.SetOutput("Output", []string{dequantOpOut.Var.Name})
	case isMulFamily(f.quantizedOpType):
		desc.SetInput("X", []string{input.Var.Name})
		desc.SetOutput("Out", []string{dequantOpOut.Var.Name})
	default:
		return invariantf("op type %s has no weight convention", f.quantizedOpType)
	}

	desc.SetAttr("enable_int8", true)
	desc.SetInputScale(weightName, weightScale)

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
		channelScale:   true,
		dequantOp:      true,
	})
}
