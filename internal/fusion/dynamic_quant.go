package fusion

import (
	"fmt"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/pattern"
	"github.com/mirfuse/mirfuse/internal/scope"
)

// DynamicQuantOpFuser quantizes the weight of an operator that carries a
// quantization_type attribute, reading the calibration threshold from the
// operator's own "<argument>0_threshold" attribute. The operator is mutated
// in place; no nodes are created or deleted.
type DynamicQuantOpFuser struct {
	opType       string
	inputArgName string
}

// NewDynamicQuantOpFuser creates the rule for one operator type and weight
// argument slot.
func NewDynamicQuantOpFuser(opType, inputArgName string) *DynamicQuantOpFuser {
	return &DynamicQuantOpFuser{opType: opType, inputArgName: inputArgName}
}

func (f *DynamicQuantOpFuser) BuildPattern() *pattern.Pattern {
	p := pattern.New()
	weight := p.VarNode("weight").AssertIsOpInput(f.opType, f.inputArgName)
	// The attribute's presence is the match condition; any value passes.
	op := p.OpNode("op", f.opType).
		AssertOpAttrSatisfied("quantization_type", func(any) bool { return true })
	p.LinksFrom(op, weight)
	return p
}

func (f *DynamicQuantOpFuser) Rewrite(g *graph.Graph, sc *scope.Scope, m pattern.Match) error {
	op := m.At("op")
	weight := m.At("weight")
	weightName := weight.Var.Name

	weightTensor, err := sc.FindTensor(weightName)
	if err != nil {
		return fmt.Errorf("weight tensor: %w", err)
	}
	if weightTensor.Rank() != 2 {
		return invariantf("weight %s should have rank 2, got %d", weightName, weightTensor.Rank())
	}

	desc := op.Op
	bitLength, err := requireAttrInt(desc, "bit_length")
	if err != nil {
		return err
	}
	threshold, err := requireAttrFloat(desc, f.inputArgName+"0_threshold")
	if err != nil {
		return err
	}
	weightScale := threshold / quantRange(bitLength)

	desc.SetAttr("enable_int8", true)
	desc.SetAttr("bit_length", bitLength)
	desc.SetInputScale(weightName, repeat(weightScale, int(weightTensor.Dim(1))))

	quantizeTensorInPlace(weightTensor, weightScale)
	weightTensor.SetPersistable(true)
	weightTensor.SetDType(scope.DTypeInt8)
	return nil
}
