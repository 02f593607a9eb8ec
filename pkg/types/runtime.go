package types

import "sync/atomic"

// runtimeCounters is the atomic backing store for InstanceRuntime. Each
// scalar is its own atomic word rather than a mutex-guarded struct,
// matching the "map AtomicInteger/AtomicLong to native atomics" guidance:
// readers (snapshot, admin status) never block a concurrent writer.
type runtimeCounters struct {
	requestCount    atomic.Int64
	failureCount    atomic.Int64
	totalLatencyMs  atomic.Int64
	lastUsedMs      atomic.Int64
	lastFailureMs   atomic.Int64
	lastHeartbeatMs atomic.Int64
	circuitOpen     atomic.Bool

	// consecutiveFailures is not part of the snapshot contract; it only
	// drives the 3-failure circuit-open threshold.
	consecutiveFailures atomic.Int32
}

// NewInstanceRuntime returns a zeroed runtime, counters reset, circuit
// closed.
func NewInstanceRuntime() *InstanceRuntime {
	return &InstanceRuntime{}
}

// CircuitOpen reports the current breaker state.
func (r *InstanceRuntime) CircuitOpen() bool {
	if r == nil {
		return false
	}
	return r.counters.circuitOpen.Load()
}

// RecordSuccess resets the consecutive-failure counter, closes the
// circuit, and bumps requestCount/lastUsedMs/totalLatencyMs.
func (r *InstanceRuntime) RecordSuccess(latencyMs int64, nowMs int64) {
	r.counters.consecutiveFailures.Store(0)
	r.counters.circuitOpen.Store(false)
	r.counters.requestCount.Add(1)
	r.counters.totalLatencyMs.Add(latencyMs)
	r.counters.lastUsedMs.Store(nowMs)
}

// RecordFailure bumps failureCount/lastFailureMs and opens the circuit
// once three consecutive failures have been observed.
func (r *InstanceRuntime) RecordFailure(nowMs int64) {
	r.counters.failureCount.Add(1)
	r.counters.lastFailureMs.Store(nowMs)
	if r.counters.consecutiveFailures.Add(1) >= 3 {
		r.counters.circuitOpen.Store(true)
	}
}

// RecordHeartbeat stamps lastHeartbeatMs; the core path never calls this
// (heartbeat probing is out of scope), but it is preserved as an
// advisory write path for an external health prober.
func (r *InstanceRuntime) RecordHeartbeat(nowMs int64) {
	r.counters.lastHeartbeatMs.Store(nowMs)
}

// Snapshot captures the current counters as a value, for use across a
// config refresh.
func (r *InstanceRuntime) Snapshot() RuntimeSnapshot {
	if r == nil {
		return RuntimeSnapshot{}
	}
	return RuntimeSnapshot{
		RequestCount:    r.counters.requestCount.Load(),
		FailureCount:    r.counters.failureCount.Load(),
		TotalLatencyMs:  r.counters.totalLatencyMs.Load(),
		LastUsedMs:      r.counters.lastUsedMs.Load(),
		LastFailureMs:   r.counters.lastFailureMs.Load(),
		LastHeartbeatMs: r.counters.lastHeartbeatMs.Load(),
		CircuitOpen:     r.counters.circuitOpen.Load(),
	}
}

// Restore overwrites the counters from a previously captured snapshot.
// Used by Router.refresh to carry counters across instance-list reloads
// for IDs that are unchanged.
func (r *InstanceRuntime) Restore(s RuntimeSnapshot) {
	r.counters.requestCount.Store(s.RequestCount)
	r.counters.failureCount.Store(s.FailureCount)
	r.counters.totalLatencyMs.Store(s.TotalLatencyMs)
	r.counters.lastUsedMs.Store(s.LastUsedMs)
	r.counters.lastFailureMs.Store(s.LastFailureMs)
	r.counters.lastHeartbeatMs.Store(s.LastHeartbeatMs)
	r.counters.circuitOpen.Store(s.CircuitOpen)
	if s.CircuitOpen {
		r.counters.consecutiveFailures.Store(3)
	} else {
		r.counters.consecutiveFailures.Store(0)
	}
}

// RequestCount, FailureCount, LastUsedMs, LastFailureMs and
// LastHeartbeatMs expose individual atomic reads for admin status without
// requiring a full Snapshot allocation.
func (r *InstanceRuntime) RequestCount() int64    { return r.counters.requestCount.Load() }
func (r *InstanceRuntime) FailureCount() int64    { return r.counters.failureCount.Load() }
func (r *InstanceRuntime) LastUsedMs() int64      { return r.counters.lastUsedMs.Load() }
func (r *InstanceRuntime) LastFailureMs() int64   { return r.counters.lastFailureMs.Load() }
func (r *InstanceRuntime) LastHeartbeatMs() int64 { return r.counters.lastHeartbeatMs.Load() }
