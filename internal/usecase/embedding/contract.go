package embedding

import "context"

// Limiter gates outbound provider calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

type noLimit struct{}

func (noLimit) Wait(context.Context) error { return nil }
