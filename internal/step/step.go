// ============================================================================
// mwcontrol Step Hierarchy
// ============================================================================
//
// Package: internal/step
// File: step.go
// Purpose: Description of one unit of distributed work, sent by the master
//          to every worker each iteration.
//
// Kinds (closed set):
//   MultiStep     composite; children run in order
//   SolveStep     accumulate solver equations over a work domain
//   PredictStep   predict model visibilities
//   CorrectStep   apply the current solution
//   SubtractStep  subtract predicted sources
//   (other)       bodies registered at runtime through a Registry
//
// Layout:
//   A step tree is an arena (see tree.go). Bodies hold only properties;
//   structure (parent / children) lives in the arena, addressed by ID.
//
// Serialization:
//   Every body is framed with blob.PutStart(TypeName(), Version()) and
//   blob.PutEnd(). The receiver peeks the type name and asks its Registry
//   for a fresh body of that type, so custom kinds round-trip as long as
//   both sides registered them.
//
// ============================================================================

package step

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/domain"
)

// Kind is the closed set of step kinds the visitor dispatches on.
type Kind int

const (
	KindMulti Kind = iota
	KindSolve
	KindPredict
	KindCorrect
	KindSubtract
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindMulti:
		return "multi"
	case KindSolve:
		return "solve"
	case KindPredict:
		return "predict"
	case KindCorrect:
		return "correct"
	case KindSubtract:
		return "subtract"
	case KindOther:
		return "other"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Type names used for dispatch and on the wire.
const (
	MultiTypeName    = "MultiStep"
	SolveTypeName    = "SolveStep"
	PredictTypeName  = "PredictStep"
	CorrectTypeName  = "CorrectStep"
	SubtractTypeName = "SubtractStep"
)

const bodyVersion int16 = 1

var (
	// ErrUnsupportedVersion is returned when a body was written with a
	// version this process cannot read.
	ErrUnsupportedVersion = errors.New("step: unsupported body version")
)

// Body is the property bag of one step.
type Body interface {
	// TypeName is the stable name used for dispatch and serialization.
	TypeName() string
	Kind() Kind
	Version() int16
	// WriteFields encodes the properties (no framing).
	WriteFields(w *blob.Writer)
	// ReadFields decodes properties written by WriteFields at version.
	ReadFields(r *blob.Reader, version int16) error
	// CloneBody returns a deep copy.
	CloneBody() Body
}

// ============================================================================
// Selection (shared by predict / correct / subtract / solve)
// ============================================================================

// Selection picks the data a step works on and where results go.
type Selection struct {
	Name            string   // step name, for logs
	Station1        []int32  // first antenna of selected baselines (empty = all)
	Station2        []int32  // second antenna of selected baselines
	CorrTypes       []string // correlations, e.g. XX, YY
	IntegrationFreq int32    // channels averaged together
	IntegrationTime int32    // timeslots averaged together
	Sources         []string // sources in the model
	ExtraSources    []string // sources solved for but not subtracted
	OutputData      string   // destination column / file
}

func (s *Selection) writeSelection(w *blob.Writer) {
	w.PutString(s.Name)
	w.PutInt32s(s.Station1)
	w.PutInt32s(s.Station2)
	w.PutStrings(s.CorrTypes)
	w.PutInt32(s.IntegrationFreq)
	w.PutInt32(s.IntegrationTime)
	w.PutStrings(s.Sources)
	w.PutStrings(s.ExtraSources)
	w.PutString(s.OutputData)
}

func (s *Selection) readSelection(r *blob.Reader) {
	s.Name = r.GetString()
	s.Station1 = r.GetInt32s()
	s.Station2 = r.GetInt32s()
	s.CorrTypes = r.GetStrings()
	s.IntegrationFreq = r.GetInt32()
	s.IntegrationTime = r.GetInt32()
	s.Sources = r.GetStrings()
	s.ExtraSources = r.GetStrings()
	s.OutputData = r.GetString()
}

func (s Selection) clone() Selection {
	s.Station1 = cloneSlice(s.Station1)
	s.Station2 = cloneSlice(s.Station2)
	s.CorrTypes = cloneSlice(s.CorrTypes)
	s.Sources = cloneSlice(s.Sources)
	s.ExtraSources = cloneSlice(s.ExtraSources)
	return s
}

func cloneSlice[T any](s []T) []T {
	if s == nil {
		return nil
	}
	return append([]T(nil), s...)
}

func checkVersion(typeName string, version int16) error {
	if version != bodyVersion {
		return fmt.Errorf("%w: %s version %d, want %d", ErrUnsupportedVersion, typeName, version, bodyVersion)
	}
	return nil
}

// ============================================================================
// Built-in bodies
// ============================================================================

// Multi is a composite step; its children live in the tree.
type Multi struct{}

func (*Multi) TypeName() string         { return MultiTypeName }
func (*Multi) Kind() Kind               { return KindMulti }
func (*Multi) Version() int16           { return bodyVersion }
func (*Multi) WriteFields(*blob.Writer) {}
func (*Multi) CloneBody() Body          { return &Multi{} }

func (*Multi) ReadFields(_ *blob.Reader, v int16) error {
	return checkVersion(MultiTypeName, v)
}

// Predict computes model visibilities for the selection.
type Predict struct {
	Selection
}

func (*Predict) TypeName() string             { return PredictTypeName }
func (*Predict) Kind() Kind                   { return KindPredict }
func (*Predict) Version() int16               { return bodyVersion }
func (p *Predict) WriteFields(w *blob.Writer) { p.writeSelection(w) }
func (p *Predict) ReadFields(r *blob.Reader, v int16) error {
	if err := checkVersion(PredictTypeName, v); err != nil {
		return err
	}
	p.readSelection(r)
	return r.Err()
}
func (p *Predict) CloneBody() Body { return &Predict{Selection: p.Selection.clone()} }

// Correct applies the current solution to the selection.
type Correct struct {
	Selection
}

func (*Correct) TypeName() string             { return CorrectTypeName }
func (*Correct) Kind() Kind                   { return KindCorrect }
func (*Correct) Version() int16               { return bodyVersion }
func (c *Correct) WriteFields(w *blob.Writer) { c.writeSelection(w) }
func (c *Correct) ReadFields(r *blob.Reader, v int16) error {
	if err := checkVersion(CorrectTypeName, v); err != nil {
		return err
	}
	c.readSelection(r)
	return r.Err()
}
func (c *Correct) CloneBody() Body { return &Correct{Selection: c.Selection.clone()} }

// Subtract removes predicted sources from the selection.
type Subtract struct {
	Selection
}

func (*Subtract) TypeName() string             { return SubtractTypeName }
func (*Subtract) Kind() Kind                   { return KindSubtract }
func (*Subtract) Version() int16               { return bodyVersion }
func (s *Subtract) WriteFields(w *blob.Writer) { s.writeSelection(w) }
func (s *Subtract) ReadFields(r *blob.Reader, v int16) error {
	if err := checkVersion(SubtractTypeName, v); err != nil {
		return err
	}
	s.readSelection(r)
	return r.Err()
}
func (s *Subtract) CloneBody() Body { return &Subtract{Selection: s.Selection.clone()} }

// Solve accumulates equations for the matching parameters over tiles of
// Shape and lets the master solve them.
type Solve struct {
	Selection
	ParmPatterns []string           // parameters to solve for
	ExclPatterns []string           // parameters excluded from ParmPatterns
	Shape        domain.DomainShape // solve domain tile size
	MaxIter      int32
	Epsilon      float64 // convergence threshold
	MinConverged float64 // fraction of domains that must converge
}

func (*Solve) TypeName() string { return SolveTypeName }
func (*Solve) Kind() Kind       { return KindSolve }
func (*Solve) Version() int16   { return bodyVersion }

func (s *Solve) WriteFields(w *blob.Writer) {
	s.writeSelection(w)
	w.PutStrings(s.ParmPatterns)
	w.PutStrings(s.ExclPatterns)
	s.Shape.ToBlob(w)
	w.PutInt32(s.MaxIter)
	w.PutFloat64(s.Epsilon)
	w.PutFloat64(s.MinConverged)
}

func (s *Solve) ReadFields(r *blob.Reader, v int16) error {
	if err := checkVersion(SolveTypeName, v); err != nil {
		return err
	}
	s.readSelection(r)
	s.ParmPatterns = r.GetStrings()
	s.ExclPatterns = r.GetStrings()
	shape, err := domain.DomainShapeFromBlob(r)
	if err != nil {
		return err
	}
	s.Shape = shape
	s.MaxIter = r.GetInt32()
	s.Epsilon = r.GetFloat64()
	s.MinConverged = r.GetFloat64()
	return r.Err()
}

func (s *Solve) CloneBody() Body {
	c := *s
	c.Selection = s.Selection.clone()
	c.ParmPatterns = cloneSlice(s.ParmPatterns)
	c.ExclPatterns = cloneSlice(s.ExclPatterns)
	return &c
}
