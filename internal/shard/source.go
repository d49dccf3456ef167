package shard

import (
	"context"

	"github.com/legacyplayers/lcec/internal/models"
)

// MessageSource is the feed of already-deserialized messages Server.Process
// consumes. The ingest-side binary framing, anonymization, and transport
// (ZeroMQ socket, byte-level GUID salting) that produces these messages is
// out of scope for this core — a deployment wires
// its own MessageSource on top of whatever transport it uses.
type MessageSource interface {
	Messages() <-chan models.Message
}

// Run drives server with every message source produces until ctx is
// cancelled or the source's channel closes.
func Run(ctx context.Context, server *Server, source MessageSource) {
	messages := source.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-messages:
			if !ok {
				return
			}
			server.Process(ctx, m)
		}
	}
}
