package bus

import (
	"context"

	"github.com/aistory/aistory-web/internal/realtime"
)

// Bus moves realtime messages between gateway replicas and the engine.
// The engine publishes updated job rows here; each gateway forwards them
// into its in-process hub.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
