package events

import "context"

// HandlerFunc processes a single delivered event.
type HandlerFunc func(ctx context.Context, evt EventEnvelope) error
