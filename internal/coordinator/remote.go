package coordinator

import (
	"context"

	"github.com/robbenti/nsdb/internal/model"
	"github.com/robbenti/nsdb/internal/schema"
)

// RegistryProvider hands out the per-(db, namespace) schema registry.
type RegistryProvider interface {
	Registry(db, ns string) (*schema.Registry, error)
}

// RemoteClient is the transport the coordinators use to reach shard owners.
// Implementations map failures of unreachable peers to Unavailable.
type RemoteClient interface {
	// WriteRemote forwards a record to the node owning its bin.
	WriteRemote(ctx context.Context, nodeID, db, ns, metric string, bit model.Bit) error
	// QueryShard executes a select statement against one bin on its owner.
	QueryShard(ctx context.Context, nodeID, db, ns string, bin int64, sqlText string) ([]model.Bit, error)
	// DeleteShard executes a delete statement against one bin on its owner.
	DeleteShard(ctx context.Context, nodeID, db, ns string, bin int64, sqlText string) error
}
