package transport

import (
	"context"
)

// ConnectionSet is an ordered, named collection of connections, addressed by
// sequence number 0..Size()-1. It provides no internal locking: callers must
// not use the same index concurrently from two sets sharing connections.
type ConnectionSet struct {
	name  string
	conns []Connection
}

// NewConnectionSet creates an empty set.
func NewConnectionSet(name string) *ConnectionSet {
	return &ConnectionSet{name: name}
}

// Name returns the role name of the set.
func (s *ConnectionSet) Name() string { return s.name }

// Size returns the number of connections.
func (s *ConnectionSet) Size() int { return len(s.conns) }

// Add appends a connection and returns its sequence number.
func (s *ConnectionSet) Add(c Connection) int {
	s.conns = append(s.conns, c)
	return len(s.conns) - 1
}

// Connection returns the connection at seq.
func (s *ConnectionSet) Connection(seq int) (Connection, error) {
	if err := s.check(seq); err != nil {
		return nil, err
	}
	return s.conns[seq], nil
}

func (s *ConnectionSet) check(seq int) error {
	if seq < 0 || seq >= len(s.conns) {
		return &IndexOutOfRangeError{Index: seq, Size: len(s.conns)}
	}
	return nil
}

// Clone returns a new set restricted to the given indices, in the given
// order. The underlying connections are shared, not duplicated.
func (s *ConnectionSet) Clone(indices []int) (*ConnectionSet, error) {
	out := &ConnectionSet{name: s.name, conns: make([]Connection, 0, len(indices))}
	for _, i := range indices {
		if err := s.check(i); err != nil {
			return nil, err
		}
		out.conns = append(out.conns, s.conns[i])
	}
	return out, nil
}

// Write sends buf to connection seq.
func (s *ConnectionSet) Write(ctx context.Context, seq int, buf []byte) error {
	if err := s.check(seq); err != nil {
		return err
	}
	if err := s.conns[seq].Send(ctx, buf); err != nil {
		return &ConnError{Set: s.name, Index: seq, Op: "write", Err: err}
	}
	return nil
}

// Read receives one message from connection seq into buf.
func (s *ConnectionSet) Read(ctx context.Context, seq int, buf []byte) ([]byte, error) {
	if err := s.check(seq); err != nil {
		return nil, err
	}
	msg, err := s.conns[seq].Receive(ctx, buf)
	if err != nil {
		return nil, &ConnError{Set: s.name, Index: seq, Op: "read", Err: err}
	}
	return msg, nil
}

// WriteAll sends buf to every connection in index order. A failure stops the
// broadcast; messages already sent to lower indices are not recalled.
func (s *ConnectionSet) WriteAll(ctx context.Context, buf []byte) error {
	for i, c := range s.conns {
		if err := c.Send(ctx, buf); err != nil {
			return &ConnError{Set: s.name, Index: i, Op: "write", Err: err}
		}
	}
	return nil
}

// ReadyConnection returns the lowest index whose connection reports a waiting
// message, or NoneReady. Connections that cannot poll never report ready.
func (s *ConnectionSet) ReadyConnection() int {
	for i, c := range s.conns {
		if p, ok := c.(Poller); ok && p.Ready() {
			return i
		}
	}
	return NoneReady
}

// Close closes every connection and returns the first error.
func (s *ConnectionSet) Close() error {
	var first error
	for _, c := range s.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
