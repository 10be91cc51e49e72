package store

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/openfieldgw/iec104-gateway/point"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s := New(4, nil)
	s.Start()
	t.Cleanup(s.Shutdown)
	return s
}

func TestUpdateThenGetReturnsLatestValue(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		p := point.New(1, 1001, point.MMeNc1, point.F64Value(float64(i)), true, 0)
		s.Update(p)
	}

	got, ok := s.Get(1, 1001)
	assert.True(t, ok)
	assert.Equal(t, float64(4), got.Value().F64)
}

func TestListenerInvokedWithLatestValueAfterBatchInterval(t *testing.T) {
	s := newTestStore(t)

	var mu sync.Mutex
	var lastSeen float64
	var invocations int32

	s.AddListener(func(p *point.Point) {
		mu.Lock()
		lastSeen = p.Value().F64
		mu.Unlock()
		atomic.AddInt32(&invocations, 1)
	})

	s.Update(point.New(1, 1001, point.MMeNc1, point.F64Value(1), true, 0))

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&invocations) >= 1
	}, 2*BatchInterval, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(1), lastSeen)
}

func TestBurstOfUpdatesCoalescesToOneInvocationPerInterval(t *testing.T) {
	s := newTestStore(t)

	var invocations int32
	var lastValue float64
	var mu sync.Mutex

	s.AddListener(func(p *point.Point) {
		mu.Lock()
		lastValue = p.Value().F64
		mu.Unlock()
		atomic.AddInt32(&invocations, 1)
	})

	for i := 0; i < 1000; i++ {
		s.Update(point.New(1, 1001, point.MMeNc1, point.F64Value(float64(i)), true, 0))
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&invocations) >= 1
	}, 2*BatchInterval, 5*time.Millisecond)

	// give the dispatcher one more tick to make sure no second invocation
	// sneaks in for the same burst
	time.Sleep(BatchInterval)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, float64(999), lastValue)
	assert.LessOrEqual(t, atomic.LoadInt32(&invocations), int32(2))
	assert.GreaterOrEqual(t, s.Stats().CoalescedUpdates, uint64(999))
}

func TestSnapshotReflectsLiveValues(t *testing.T) {
	s := newTestStore(t)

	s.Update(point.New(1, 1001, point.MMeNc1, point.F64Value(10), true, 0))
	s.Update(point.New(1, 1002, point.MMeNc1, point.F64Value(20), true, 0))

	snap := s.Snapshot(1)
	assert.Len(t, snap, 2)
	assert.Equal(t, float64(10), snap[1001].Value().F64)
	assert.Equal(t, float64(20), snap[1002].Value().F64)
}

func TestUpdateRejectsZeroIOA(t *testing.T) {
	s := newTestStore(t)
	s.Update(point.New(1, 0, point.MMeNc1, point.F64Value(1), true, 0))
	assert.Equal(t, 0, s.Stats().PointCount)
}

func TestRemoveListenerIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	tok := s.AddListener(func(p *point.Point) {})
	s.RemoveListener(tok)
	assert.NotPanics(t, func() { s.RemoveListener(tok) })
	assert.Equal(t, 0, s.Stats().ListenerCount)
}

func TestDefaultReturnsSameInstanceUntilShutdown(t *testing.T) {
	ShutdownDefault()
	t.Cleanup(ShutdownDefault)

	first := Default(4, nil)
	second := Default(4, nil)
	assert.Same(t, first, second, "Default must return the same process-wide instance on repeated calls")

	first.Update(point.New(1, 1001, point.MMeNc1, point.F64Value(1), true, 0))
	_, ok := second.Get(1, 1001)
	assert.True(t, ok, "both handles must observe the same live point set")

	ShutdownDefault()
	third := Default(4, nil)
	assert.NotSame(t, first, third, "a fresh Default call after ShutdownDefault must construct a new instance")
	_, ok = third.Get(1, 1001)
	assert.False(t, ok, "a fresh instance after shutdown must not retain the prior instance's points")
}
