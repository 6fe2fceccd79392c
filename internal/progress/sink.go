package progress

import "context"

// Sink consumes batches of stream updates. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Update) error
	Close(ctx context.Context) error
}

// Publisher accepts individual updates; Hub satisfies this interface so the
// stream client stays agnostic about how updates are buffered or persisted.
type Publisher interface {
	Publish(upd Update)
}
