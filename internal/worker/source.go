// ============================================================================
// mwcontrol Worker Connection Source
// ============================================================================
//
// Package: internal/worker
// File: source.go
// Purpose: Defines how a worker obtains its single connection to the master.
//
// Motivation:
//   The same Processor runs unchanged whether the worker lives in the master
//   process or on another host; only the way the connection is obtained
//   differs.
//
//   - In-process: StaticSource hands out a pre-built pipe end.
//   - Distributed: GrpcSource dials the master's listener.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
)

// ErrSourceUsed is returned when a StaticSource is asked for a second
// connection.
var ErrSourceUsed = errors.New("worker: connection source already used")

// ConnSource produces the worker's connection back to the master.
type ConnSource interface {
	// Connect blocks until the connection is established or ctx ends.
	// Failures are fatal to the worker; nothing retries.
	Connect(ctx context.Context) (transport.Connection, error)
}

// StaticSource returns a connection that already exists, once.
type StaticSource struct {
	conn transport.Connection
}

// NewStaticSource wraps conn.
func NewStaticSource(conn transport.Connection) *StaticSource {
	return &StaticSource{conn: conn}
}

func (s *StaticSource) Connect(context.Context) (transport.Connection, error) {
	if s.conn == nil {
		return nil, ErrSourceUsed
	}
	c := s.conn
	s.conn = nil
	return c, nil
}

// Run connects through src and serves proc until the master quits.
func Run(ctx context.Context, src ConnSource, proc Processor) error {
	conn, err := src.Connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to master: %w", err)
	}
	defer conn.Close()

	proxy := NewProxy(proc)
	proxy.logger.Info("Connected to master", "peer", conn.Addr())
	return Serve(ctx, conn, proxy)
}
