package providers

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

// doublingBackOff yields base * 2^attempt. When the last failure was a rate
// limit the delay is doubled again.
type doublingBackOff struct {
	base        time.Duration
	attempt     int
	rateLimited func() bool
}

var _ backoff.BackOff = (*doublingBackOff)(nil)

func newDoublingBackOff(base time.Duration, rateLimited func() bool) *doublingBackOff {
	return &doublingBackOff{base: base, rateLimited: rateLimited}
}

func (b *doublingBackOff) NextBackOff() time.Duration {
	delay := b.base << b.attempt
	b.attempt++

	if b.rateLimited != nil && b.rateLimited() {
		delay *= 2
	}

	return delay
}

func (b *doublingBackOff) Reset() {
	b.attempt = 0
}
