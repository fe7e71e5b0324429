// Package reconcile drives the device side of the offline sync: it pushes
// the local outbox to the server one FEI at a time and folds the server's
// answers back into the local store.
package reconcile

import (
	"context"

	"zacharie/internal/core"
	"zacharie/pkg/domain"
)

// Transport carries sync traffic between a device and the server.
type Transport interface {
	// Pull returns the server state of the named FEIs.
	Pull(ctx context.Context, numeros ...string) (domain.SyncSnapshot, error)
	// Push submits one FEI batch; the server applies it whole or not at all.
	Push(ctx context.Context, batch domain.SyncBatch) (domain.SyncAck, error)
}

// ServiceTransport talks to a server service living in the same process.
type ServiceTransport struct {
	Server *core.Service
}

// NewServiceTransport wraps a server service.
func NewServiceTransport(server *core.Service) ServiceTransport {
	return ServiceTransport{Server: server}
}

// Pull implements Transport.
func (t ServiceTransport) Pull(ctx context.Context, numeros ...string) (domain.SyncSnapshot, error) {
	if len(numeros) == 0 {
		return domain.SyncSnapshot{}, nil
	}
	return t.Server.SyncSnapshot(ctx, numeros...)
}

// Push implements Transport.
func (t ServiceTransport) Push(ctx context.Context, batch domain.SyncBatch) (domain.SyncAck, error) {
	ack, _, err := t.Server.AcceptSyncBatch(ctx, batch)
	return ack, err
}
