package cache

import (
	"context"
	"sync/atomic"
	"time"
)

// RemoteStore is the minimal contract for the secondary tier. Any key-value
// store implementing it is interchangeable with the Redis-backed reference
// implementation in this package.
type RemoteStore interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error
	// Get returns the stored bytes for key, with found=false on a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set stores data under key with the given TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
	// Delete removes the given keys and returns how many existed.
	Delete(ctx context.Context, keys ...string) (int, error)
	// Keys returns the keys matching a glob-style pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// FlushDB removes every key owned by this store.
	FlushDB(ctx context.Context) error
}

// HealthState is the remote tier's health as tracked by the engine.
type HealthState int32

const (
	// HealthHealthy means remote calls are attempted normally.
	HealthHealthy HealthState = iota
	// HealthDegraded means recent calls failed but the tier is still
	// being attempted.
	HealthDegraded
	// HealthDisabled means the consecutive-failure limit was reached and
	// remote calls are skipped for the rest of the session until an
	// explicit reset.
	HealthDisabled
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthDegraded:
		return "degraded"
	case HealthDisabled:
		return "disabled"
	default:
		return "unknown"
	}
}

// remoteTier wraps a RemoteStore with the health state machine checked
// before every remote call. State and failure counts are atomics so the
// check never takes a lock.
type remoteTier struct {
	store        RemoteStore
	timeout      time.Duration
	failureLimit int32

	state    atomic.Int32
	failures atomic.Int32
}

func newRemoteTier(store RemoteStore, timeout time.Duration, failureLimit int) *remoteTier {
	return &remoteTier{
		store:        store,
		timeout:      timeout,
		failureLimit: int32(failureLimit),
	}
}

// attempting reports whether remote calls should be made.
func (r *remoteTier) attempting() bool {
	return HealthState(r.state.Load()) != HealthDisabled
}

func (r *remoteTier) health() HealthState {
	return HealthState(r.state.Load())
}

// onSuccess resets the failure run and restores the tier to healthy.
func (r *remoteTier) onSuccess() {
	r.failures.Store(0)
	r.state.Store(int32(HealthHealthy))
}

// onFailure records a failure and disables the tier once the consecutive
// run reaches the limit. Returns true when this failure tripped the breaker.
func (r *remoteTier) onFailure() bool {
	failures := r.failures.Add(1)
	if failures >= r.failureLimit {
		r.state.Store(int32(HealthDisabled))
		return true
	}
	r.state.Store(int32(HealthDegraded))
	return false
}

// reset re-enables a disabled tier.
func (r *remoteTier) reset() {
	r.failures.Store(0)
	r.state.Store(int32(HealthHealthy))
}

// callCtx bounds a remote call with the configured timeout.
func (r *remoteTier) callCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, r.timeout)
}

func (r *remoteTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	data, found, err := r.store.Get(cctx, key)
	if err != nil {
		r.onFailure()
		return nil, false, err
	}
	r.onSuccess()
	return data, found, nil
}

func (r *remoteTier) set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	if err := r.store.Set(cctx, key, data, ttl); err != nil {
		r.onFailure()
		return err
	}
	r.onSuccess()
	return nil
}

func (r *remoteTier) delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	n, err := r.store.Delete(cctx, keys...)
	if err != nil {
		r.onFailure()
		return 0, err
	}
	r.onSuccess()
	return n, nil
}

func (r *remoteTier) keys(ctx context.Context, pattern string) ([]string, error) {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	keys, err := r.store.Keys(cctx, pattern)
	if err != nil {
		r.onFailure()
		return nil, err
	}
	r.onSuccess()
	return keys, nil
}

func (r *remoteTier) flush(ctx context.Context) error {
	cctx, cancel := r.callCtx(ctx)
	defer cancel()
	if err := r.store.FlushDB(cctx); err != nil {
		r.onFailure()
		return err
	}
	r.onSuccess()
	return nil
}
