// ============================================================================
// mwcontrol Worker - Command Dispatcher
// ============================================================================
//
// Package: internal/worker
// File: worker.go
// Function: Worker-side handling of master commands, one connection per
//           worker process (or per in-process worker goroutine)
//
// How it works:
//   Serve runs the worker's single logical thread:
//   1. Receive the next envelope from the master (blocking)
//   2. Proxy.HandleMessage decodes it and calls the Processor
//   3. Send the reply envelope, unless the Processor suppressed it
//   4. Repeat until the quit sentinel arrives or the master hangs up
//
// Execution Model:
//   ┌──────────────────────────────────────────┐
//   │  Worker                                  │
//   │  ┌───────────────────────────────────┐   │
//   │  │ for msg := conn.Receive()         │   │
//   │  │   ├─ op < 0      → Quit(), stop   │   │
//   │  │   ├─ first Init  → capture id     │   │
//   │  │   ├─ timers + Process()           │   │
//   │  │   └─ reply (unless suppressed)    │   │
//   │  └───────────────────────────────────┘   │
//   └──────────────────────────────────────────┘
//
// Reply suppression vs. termination:
//   A negative *incoming* operation is the quit sentinel: the worker stops
//   and sends nothing. A negative operation *returned by Process* only
//   suppresses the reply to that one message (e.g. a model broadcast); the
//   worker keeps serving.
//
// Error Handling:
//   Nothing is retried. A malformed envelope, version mismatch, unconsumed
//   payload or Processor error ends Serve with that error; the process's
//   top-level handler logs it and exits non-zero. ErrConnectionClosed on
//   receive is an orderly shutdown and still runs Quit().
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ChuLiYu/mwcontrol/internal/blob"
	"github.com/ChuLiYu/mwcontrol/internal/envelope"
	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/ChuLiYu/mwcontrol/pkg/types"
)

// Processor is the application hook a worker runs for every command.
type Processor interface {
	// Process handles one command. It reads its input from in and writes its
	// reply payload to out, and returns the operation to put in the reply,
	// or a negative value to send no reply at all.
	Process(ctx context.Context, op types.Operation, streamID int32, in *blob.Reader, out *blob.Writer) (types.Operation, error)

	// Quit is called once when the master sends the quit sentinel.
	Quit()
}

// Proxy decodes master commands and dispatches them to a Processor.
// A Proxy serves one connection and is not safe for concurrent use.
type Proxy struct {
	proc     Processor
	workerID int32
	initOnce sync.Once
	quitOnce sync.Once
	out      []byte // reply buffer, reused between messages
	logger   *slog.Logger
}

// NewProxy wraps proc. The worker id is -1 until the first Init command
// arrives; later Init commands do not change it.
func NewProxy(proc Processor) *Proxy {
	return &Proxy{
		proc:     proc,
		workerID: -1,
		logger:   slog.With("component", "worker"),
	}
}

// WorkerID returns the id assigned by the master's Init command.
func (p *Proxy) WorkerID() int32 { return p.workerID }

// HandleMessage processes one incoming envelope.
//
// It returns the reply to send (empty when there is none) and whether the
// worker should keep serving. The reply slice is only valid until the next
// call.
func (p *Proxy) HandleMessage(ctx context.Context, in []byte) ([]byte, bool, error) {
	msg, err := envelope.Open(in)
	if err != nil {
		return nil, false, err
	}
	op := msg.Operation()

	if types.IsQuit(op) {
		p.quit()
		p.logger.Info("Quit received")
		return nil, false, nil
	}
	if op == types.OpInit {
		p.initOnce.Do(func() {
			p.workerID = msg.WorkerID()
			p.logger = slog.With("component", "worker", "worker_id", p.workerID)
		})
	}

	timer := StartTimer()
	reply := envelope.BeginInto(p.out, op, msg.StreamID(), -1)
	replyOp, err := p.proc.Process(ctx, op, msg.StreamID(), msg.Payload(), reply.Payload())
	if err != nil {
		return nil, false, fmt.Errorf("process operation %d (stream %d): %w", op, msg.StreamID(), err)
	}
	if err := msg.Close(); err != nil {
		return nil, false, err
	}

	if replyOp < 0 {
		p.logger.Debug("Reply suppressed", "operation", op, "stream", msg.StreamID())
		return nil, true, nil
	}
	reply.SetOperation(replyOp)
	reply.SetWorkerID(p.workerID)
	reply.SetTimes(timer.Times())
	out := reply.Finish()
	p.out = out[:0]
	return out, true, nil
}

func (p *Proxy) quit() { p.quitOnce.Do(p.proc.Quit) }

// Serve runs proxy against conn until the master sends the quit sentinel or
// closes the connection. Both end Serve with a nil error and run the
// Processor's Quit exactly once.
func Serve(ctx context.Context, conn transport.Connection, proxy *Proxy) error {
	var buf []byte
	for {
		msg, err := conn.Receive(ctx, buf)
		if errors.Is(err, transport.ErrConnectionClosed) {
			proxy.logger.Info("Master closed connection", "peer", conn.Addr())
			proxy.quit()
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive from %s: %w", conn.Addr(), err)
		}

		out, more, err := proxy.HandleMessage(ctx, msg)
		if err != nil {
			return err
		}
		if len(out) > 0 {
			if err := conn.Send(ctx, out); err != nil {
				return fmt.Errorf("send to %s: %w", conn.Addr(), err)
			}
		}
		if !more {
			return nil
		}
		buf = msg
	}
}
