package jobs

import (
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Notifier publishes queue wake-ups over NATS so workers claim new jobs
// immediately instead of waiting for their next poll tick. Delivery is
// best-effort; the database queue remains the source of truth and the
// worker's poll interval is the fallback.
type Notifier struct {
	conn   *nats.Conn
	logger *slog.Logger
}

// NewNotifier wraps an established NATS connection. A nil connection yields
// a no-op notifier, which keeps single-process deployments simple.
func NewNotifier(conn *nats.Conn, logger *slog.Logger) *Notifier {
	return &Notifier{conn: conn, logger: logger}
}

func wakeSubject(queue string) string {
	return fmt.Sprintf("skadi.jobs.%s", queue)
}

// Wake signals workers listening on the queue that a job is runnable.
func (n *Notifier) Wake(queue string) {
	if n == nil || n.conn == nil {
		return
	}
	if err := n.conn.Publish(wakeSubject(queue), nil); err != nil {
		n.logger.Warn("job wake-up publish failed", "queue", queue, "error", err)
	}
}

// Listen subscribes to wake-ups for the queue and invokes fn on each one.
// The returned subscription should be drained on shutdown.
func (n *Notifier) Listen(queue string, fn func()) (*nats.Subscription, error) {
	if n == nil || n.conn == nil {
		return nil, nil
	}
	sub, err := n.conn.Subscribe(wakeSubject(queue), func(*nats.Msg) { fn() })
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", wakeSubject(queue), err)
	}
	return sub, nil
}
