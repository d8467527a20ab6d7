package fusion

import (
	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// DeleteQuantOpFuser removes an activation fake-quantize operator and
// relocates its scale onto every consumer of the quantized activation. It
// never touches tensor storage.
type DeleteQuantOpFuser struct {
	quantOpType string
}

// NewDeleteQuantOpFuser creates the rule for one fake-quantize operator type.
func NewDeleteQuantOpFuser(quantOpType string) *DeleteQuantOpFuser {
	return &DeleteQuantOpFuser{quantOpType: quantOpType}
}

func (f *DeleteQuantOpFuser) BuildPattern() *pattern.Pattern {
	p := pattern.New()
	inputScale := p.VarNode("input_scale").AssertIsOpInput(f.quantOpType, "InScale")
	inputAct := p.VarNode("input_act").AssertIsOpInput(f.quantOpType, "X")
	quant := p.OpNode("quant", f.quantOpType)
	outputScale := p.VarNode("output_scale").AssertIsOpOutput(f.quantOpType, "OutScale")
	outputAct := p.VarNode("output_act").AssertIsOpOutput(f.quantOpType, "Out")

	p.LinksFrom(quant, inputScale, inputAct)
	p.LinksFrom(outputScale, quant)
	p.LinksFrom(outputAct, quant)
	return p
}

func (f *DeleteQuantOpFuser) Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error {
	inputScale := m.At("input_scale")
	inputAct := m.At("input_act")
	quant := m.At("quant")
	outputScale := m.At("output_scale")
	outputAct := m.At("output_act")

	bitLength, err := requireAttrInt(quant.Op, "bit_length")
	if err != nil {
		return err
	}
	rawScale, err := scalarScale(sc, outputScale.Var.Name)
	if err != nil {
		return err
	}
	scale := rawScale / quantRange(bitLength)

	inActName := inputAct.Var.Name
	outActName := outputAct.Var.Name
	for _, quantized := range outputAct.OutLinks() {
		desc := quantized.Op
		desc.SetInputScale(outActName, []float32{scale})
		desc.SetAttr("bit_length", bitLength)
		desc.UpdateAllInputs(outActName, inActName)
		g.Link(inputAct, quantized)
	}

	return g.SafeRemoveNodes(map[*graph.Node]bool{
		inputScale:  true,
		quant:       true,
		outputScale: true,
		outputAct:   true,
	})
}
