package testutil

import (
	"time"

	"github.com/skosovsky/toolstream"
)

// NewTestPool returns a Pool with a generous job timeout and panic
// recovery enabled, suitable for tests.
func NewTestPool(codec *toolstream.Codec, opts ...toolstream.PoolOption) *toolstream.Pool {
	base := []toolstream.PoolOption{
		toolstream.WithJobTimeout(30 * time.Second),
		toolstream.WithRecoverPanics(true),
	}
	return toolstream.NewPool(codec, append(base, opts...)...)
}
