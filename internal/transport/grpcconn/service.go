// ============================================================================
// mwcontrol gRPC Transport - Service Definition
// ============================================================================
//
// Package: internal/transport/grpcconn
// File: service.go
// Purpose: Socket transport carrying envelopes over one gRPC bidirectional
//          stream per worker.
//
// Service:
//   service Exchange {
//     rpc Attach(stream google.protobuf.BytesValue)
//         returns (stream google.protobuf.BytesValue);
//   }
//
//   Each worker dials the master and opens exactly one Attach stream. Every
//   BytesValue on the stream is one complete envelope, so framing comes from
//   gRPC and no extra length prefix is needed.
//
// Topology:
//   ┌──────────┐  Attach stream   ┌──────────┐
//   │ master   │◄────────────────►│ worker 0 │
//   │ Listener │◄────────────────►│ worker 1 │
//   │          │◄────────────────►│ worker 2 │
//   └──────────┘                  └──────────┘
//   Accept(n) assigns sequence numbers in attach order.
//
// Why hand-written:
//   The message type is the well-known BytesValue, so the service descriptor
//   is small enough to declare directly instead of generating stubs.
//
// ============================================================================

package grpcconn

import (
	"google.golang.org/grpc"
)

const (
	serviceName      = "mwcontrol.v1.Exchange"
	attachMethod     = "Attach"
	attachFullMethod = "/" + serviceName + "/" + attachMethod

	// DefaultMaxMessageBytes bounds one envelope on the wire.
	DefaultMaxMessageBytes = 64 << 20
	// DefaultQueueDepth is the number of received envelopes buffered per
	// connection before the receive goroutine applies back-pressure.
	DefaultQueueDepth = 4
)

// exchangeServer is the handler type for the Exchange service.
type exchangeServer interface {
	Attach(stream grpc.ServerStream) error
}

func attachHandler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(exchangeServer).Attach(stream)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*exchangeServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    attachMethod,
			Handler:       attachHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mwcontrol/v1/exchange.proto",
}

// Options tunes the transport on both sides.
type Options struct {
	MaxMessageBytes int  // zero means DefaultMaxMessageBytes
	QueueDepth      int  // zero means DefaultQueueDepth
	WaitForReady    bool // worker: block in Dial until the master is reachable
}

func (o Options) withDefaults() Options {
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = DefaultQueueDepth
	}
	return o
}
