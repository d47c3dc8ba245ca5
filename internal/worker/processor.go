package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/step"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
)

// ErrUnknownOperation is returned for operation codes StepProcessor does
// not handle.
var ErrUnknownOperation = errors.New("unknown operation")

// VisitorFactory builds the visitor that executes one step tree. Results
// for the master are written to out.
type VisitorFactory func(ctx context.Context, streamID int32, out *blob.Writer) step.Visitor

// ModelSink receives the model the master broadcasts between iterations.
type ModelSink interface {
	UpdateModel(streamID int32, model []byte) error
}

// StepProcessor is the standard Processor for step-driven workers:
//
//	OpInit         reply with Info
//	OpStep         decode the step tree with Registry, run it through a
//	               fresh visitor from NewVisitor, reply with what it wrote
//	OpUpdateModel  hand the model to Sink, no reply
type StepProcessor struct {
	Info       WorkerInfo
	Registry   *step.Registry
	NewVisitor VisitorFactory
	Sink       ModelSink
	OnQuit     func()
}

var _ Processor = (*StepProcessor)(nil)

func (s *StepProcessor) Process(ctx context.Context, op types.Operation, streamID int32, in *blob.Reader, out *blob.Writer) (types.Operation, error) {
	switch op {
	case types.OpInit:
		s.Info.Encode(out)
		return types.OpInit, nil

	case types.OpStep:
		tree, err := step.Decode(s.Registry, in)
		if err != nil {
			return 0, fmt.Errorf("decode step tree: %w", err)
		}
		if err := tree.Visit(step.Root, s.NewVisitor(ctx, streamID, out)); err != nil {
			return 0, err
		}
		return types.OpStep, nil

	case types.OpUpdateModel:
		model := in.GetBytes()
		if err := in.Err(); err != nil {
			return 0, fmt.Errorf("decode model: %w", err)
		}
		if s.Sink != nil {
			if err := s.Sink.UpdateModel(streamID, model); err != nil {
				return 0, err
			}
		}
		return types.NoReply, nil

	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownOperation, op)
	}
}

func (s *StepProcessor) Quit() {
	if s.OnQuit != nil {
		s.OnQuit()
	}
}
