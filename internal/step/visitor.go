package step

import "fmt"

// UnsupportedStepError is returned when a visitor has no handler for a step.
type UnsupportedStepError struct {
	TypeName string
}

func (e *UnsupportedStepError) Error() string {
	return fmt.Sprintf("step: visitor does not support step type %q", e.TypeName)
}

// Visitor is the minimum a visitor implements. VisitStep receives every step
// whose kind-specific method the visitor does not provide.
type Visitor interface {
	VisitStep(t *Tree, id ID, b Body) error
}

// Optional per-kind methods. A visitor implements the ones it supports.
type (
	MultiVisitor interface {
		VisitMulti(t *Tree, id ID, m *Multi) error
	}
	SolveVisitor interface {
		VisitSolve(t *Tree, id ID, s *Solve) error
	}
	PredictVisitor interface {
		VisitPredict(t *Tree, id ID, p *Predict) error
	}
	CorrectVisitor interface {
		VisitCorrect(t *Tree, id ID, c *Correct) error
	}
	SubtractVisitor interface {
		VisitSubtract(t *Tree, id ID, s *Subtract) error
	}
)

// Unsupported makes every step without a dedicated method fail loudly.
// Embed it in a visitor to get that behaviour.
type Unsupported struct{}

func (Unsupported) VisitStep(_ *Tree, _ ID, b Body) error {
	return &UnsupportedStepError{TypeName: b.TypeName()}
}

// Visit dispatches the step at id to v.
//
// A Multi step without a VisitMulti method visits its children in order; a
// Multi with no children visits nothing.
func (t *Tree) Visit(id ID, v Visitor) error {
	if err := t.check(id); err != nil {
		return err
	}
	b := t.nodes[id].body

	switch b.Kind() {
	case KindMulti:
		if m, ok := b.(*Multi); ok {
			if mv, ok := v.(MultiVisitor); ok {
				return mv.VisitMulti(t, id, m)
			}
			return t.VisitChildren(id, v)
		}
	case KindSolve:
		if s, ok := b.(*Solve); ok {
			if sv, ok := v.(SolveVisitor); ok {
				return sv.VisitSolve(t, id, s)
			}
		}
	case KindPredict:
		if p, ok := b.(*Predict); ok {
			if pv, ok := v.(PredictVisitor); ok {
				return pv.VisitPredict(t, id, p)
			}
		}
	case KindCorrect:
		if c, ok := b.(*Correct); ok {
			if cv, ok := v.(CorrectVisitor); ok {
				return cv.VisitCorrect(t, id, c)
			}
		}
	case KindSubtract:
		if s, ok := b.(*Subtract); ok {
			if sv, ok := v.(SubtractVisitor); ok {
				return sv.VisitSubtract(t, id, s)
			}
		}
	case KindOther:
	default:
		return &UnsupportedStepError{TypeName: b.TypeName()}
	}
	return v.VisitStep(t, id, b)
}

// VisitChildren visits the children of id in order, stopping at the first
// error. Visitors overriding VisitMulti call it to keep the default descent.
func (t *Tree) VisitChildren(id ID, v Visitor) error {
	if err := t.check(id); err != nil {
		return err
	}
	for _, c := range t.nodes[id].children {
		if err := t.Visit(c, v); err != nil {
			return err
		}
	}
	return nil
}
