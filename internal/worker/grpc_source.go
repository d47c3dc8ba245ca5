package worker

import (
	"context"

	"github.com/ChuLiYu/mwcontrol/internal/transport"
	"github.com/ChuLiYu/mwcontrol/internal/transport/grpcconn"
)

// GrpcSource is a ConnSource that attaches to a remote master over gRPC.
type GrpcSource struct {
	addr string
	opts grpcconn.Options
}

// NewGrpcSource creates a source dialing the master at addr. The dial waits
// for the master to come up, bounded by the Connect context.
func NewGrpcSource(addr string, opts grpcconn.Options) *GrpcSource {
	opts.WaitForReady = true
	return &GrpcSource{addr: addr, opts: opts}
}

// Connect dials the master and opens the Attach stream.
func (s *GrpcSource) Connect(ctx context.Context) (transport.Connection, error) {
	return grpcconn.Dial(ctx, s.addr, s.opts)
}
