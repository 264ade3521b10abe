package sinks

import "context"

// Sink delivers run reports to a downstream destination (webhook, queue, topic).
type Sink interface {
	ID() string
	Type() string
	Send(ctx context.Context, report Report) error
}
