package engine

import (
	"context"
	"time"
)

// Storage is the synchronous key-value provider ledgers are persisted to.
// Get reports found=false for a missing key rather than an error.
type Storage interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
}

// Clock returns wall-clock now. Tests inject a fixed or stepping clock.
type Clock func() time.Time
