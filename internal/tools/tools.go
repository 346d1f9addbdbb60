package tools

import (
	"context"

	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// Host is the worker host as a page sees it over the control channel.
type Host interface {
	Status(ctx context.Context) (*worker.Status, error)
	Stats(ctx context.Context) ([]cache.PartitionStats, error)
	Match(ctx context.Context, rawURL string) (*cache.Response, error)
	Update(ctx context.Context) (*worker.WorkerInfo, error)
}

// Updater is the page side of the update handshake.
type Updater interface {
	Accept(ctx context.Context) (bool, error)
	Offered() bool
	Pending() bool
}
