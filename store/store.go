// Package store implements the gateway's concurrency centrepiece: a
// shared, concurrent, coalescing latest-value cache that fans updates out
// to subscribers (notably the 104 server) at a fixed batch interval.
package store

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/openfieldgw/iec104-gateway/point"
)

const (
	// BatchInterval is the dispatcher's fixed drain cadence.
	BatchInterval = 100 * time.Millisecond
	// ListenerSoftLimit is the add_listener count above which a leak
	// warning is logged.
	ListenerSoftLimit = 10
	// ShutdownTimeout bounds both the dispatcher join and the worker pool
	// drain during Shutdown.
	ShutdownTimeout = 5 * time.Second
)

type key struct {
	ca  uint16
	ioa uint32
}

// ListenerFunc is invoked once per unique point per batch interval. It must
// not retain p beyond the call; p is a read-only snapshot.
type ListenerFunc func(p *point.Point)

// Token identifies a registered listener for later removal. It replaces
// the source's fragile function-identity comparison.
type Token uint64

// Stats is the observational surface exposed by Stats().
//
// spec.md §9 notes the source's "points * 500 bytes / 1024" estimated-memory
// heuristic and says to retain it only if a test asserts on it. Nothing here
// does, so it is dropped from this surface.
type Stats struct {
	PointCount           int
	ListenerCount        int
	PendingNotifications int
	CoalescedUpdates     uint64
}

// Store is the process-wide coalescing point cache. The zero value is not
// usable; construct with New. A single process-wide instance is normally
// obtained via Default/ShutdownDefault below.
type Store struct {
	workers int

	mu     sync.RWMutex
	points map[key]*point.Point

	pendingMu sync.Mutex
	pending   map[key]*point.Point

	listenerMu sync.Mutex
	listeners  map[Token]ListenerFunc
	nextToken  Token

	workCh chan *point.Point

	coalesced uint64

	runMu   sync.Mutex
	running bool
	stopCh  chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup

	lg *logrus.Logger
}

// New constructs a Store with workers background goroutines fanning out
// listener invocations. Workers should be sized at least MAX_CONNECTIONS +
// headroom; callers typically pass mapping.DefaultMaxConnections +
// mapping.DefaultWorkerHeadroom.
func New(workers int, lg *logrus.Logger) *Store {
	if workers < 1 {
		workers = 1
	}
	if lg == nil {
		lg = logrus.New()
	}
	return &Store{
		workers:   workers,
		points:    make(map[key]*point.Point),
		pending:   make(map[key]*point.Point),
		listeners: make(map[Token]ListenerFunc),
		workCh:    make(chan *point.Point, workers*4),
		lg:        lg,
	}
}

var (
	defaultMu    sync.Mutex
	defaultStore *Store
)

// Default lazily creates the process-wide singleton store under a single
// mutex (every call takes the lock) and starts its dispatcher. Subsequent calls return
// the same instance.
func Default(workers int, lg *logrus.Logger) *Store {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore == nil {
		defaultStore = New(workers, lg)
		defaultStore.Start()
	}
	return defaultStore
}

// ShutdownDefault shuts down and clears the process-wide singleton, if any.
// A later call to Default creates a fresh instance; this is the only
// sanctioned form of "re-initialization".
func ShutdownDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultStore != nil {
		defaultStore.Shutdown()
		defaultStore = nil
	}
}

// Start launches the dispatcher and worker pool. It is idempotent: calling
// Start on an already-running store is a no-op.
func (s *Store) Start() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	s.wg.Add(1)
	go s.dispatch()
}

// Update is non-blocking. It rejects a nil point or IOA==0 with a warning
// and no-ops. It replaces any existing point at the same key and records
// the write into the pending-notification map, coalescing with any
// not-yet-dispatched entry for the same key.
func (s *Store) Update(p *point.Point) {
	if p == nil || p.IOA == 0 {
		s.lg.Warn("store: rejecting update with nil point or ioa=0")
		return
	}
	k := key{ca: p.CommonAddress, ioa: p.IOA}

	s.mu.Lock()
	s.points[k] = p
	s.mu.Unlock()

	s.pendingMu.Lock()
	if _, exists := s.pending[k]; exists {
		s.coalesced++
	}
	s.pending[k] = p
	s.pendingMu.Unlock()
}

// Get returns the latest point for (ca, ioa), or ok=false if absent.
func (s *Store) Get(ca uint16, ioa uint32) (*point.Point, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[key{ca: ca, ioa: ioa}]
	return p, ok
}

// Snapshot returns a shallow copy of the whole live set, keyed by IOA
// within the given common address, for use in interrogation responses.
// Snapshot isolation is weak: each entry is consistent as of the moment it
// was read, but the overall map is not a single atomic point in time.
func (s *Store) Snapshot(ca uint16) map[uint32]*point.Point {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[uint32]*point.Point, len(s.points))
	for k, p := range s.points {
		if k.ca == ca {
			out[k.ioa] = p
		}
	}
	return out
}

// Keys returns every IOA currently live under ca. No copy guarantee beyond
// the returned slice itself.
func (s *Store) Keys(ca uint16) []uint32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]uint32, 0, len(s.points))
	for k := range s.points {
		if k.ca == ca {
			keys = append(keys, k.ioa)
		}
	}
	return keys
}

// AddListener registers f and returns a token for later removal via
// RemoveListener. A warning is logged once the listener count exceeds
// ListenerSoftLimit, to flag probable subscriber leaks.
func (s *Store) AddListener(f ListenerFunc) Token {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()

	s.nextToken++
	tok := s.nextToken
	s.listeners[tok] = f

	if len(s.listeners) > ListenerSoftLimit {
		s.lg.Warnf("store: listener count %d exceeds soft limit %d, possible subscriber leak", len(s.listeners), ListenerSoftLimit)
	}
	return tok
}

// RemoveListener unregisters the listener identified by tok. It is
// idempotent: removing an already-removed or unknown token is a no-op.
func (s *Store) RemoveListener(tok Token) {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	delete(s.listeners, tok)
}

func (s *Store) snapshotListeners() []ListenerFunc {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	out := make([]ListenerFunc, 0, len(s.listeners))
	for _, f := range s.listeners {
		out = append(out, f)
	}
	return out
}

// Stats reports the observational surface documented for the store.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	pointCount := len(s.points)
	s.mu.RUnlock()

	s.listenerMu.Lock()
	listenerCount := len(s.listeners)
	s.listenerMu.Unlock()

	s.pendingMu.Lock()
	pending := len(s.pending)
	s.pendingMu.Unlock()

	return Stats{
		PointCount:           pointCount,
		ListenerCount:        listenerCount,
		PendingNotifications: pending,
		CoalescedUpdates:     s.coalesced,
	}
}

// dispatch is the dedicated dispatcher goroutine: it wakes at
// BatchInterval, atomically drains the pending map, and hands each unique
// point to the worker pool.
func (s *Store) dispatch() {
	defer s.wg.Done()
	defer close(s.done)

	ticker := time.NewTicker(BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			s.drainOnShutdown()
			return
		case <-ticker.C:
			batch := s.drain()
			if len(batch) == 0 {
				continue
			}
			for _, p := range batch {
				select {
				case s.workCh <- p:
				case <-s.stopCh:
					return
				}
			}
		}
	}
}

// drain atomically swaps the pending map for a fresh one so writes that
// race with the drain land in the new map and are deferred to the next
// tick.
func (s *Store) drain() []*point.Point {
	s.pendingMu.Lock()
	batch := s.pending
	s.pending = make(map[key]*point.Point)
	s.pendingMu.Unlock()

	out := make([]*point.Point, 0, len(batch))
	for _, p := range batch {
		out = append(out, p)
	}
	return out
}

func (s *Store) drainOnShutdown() {
	s.pendingMu.Lock()
	dropped := len(s.pending)
	s.pending = make(map[key]*point.Point)
	s.pendingMu.Unlock()

	if dropped > 0 {
		s.lg.Warnf("store: dropping %d pending notifications at shutdown", dropped)
	}
}

// worker is one member of the fixed-size fan-out pool. A listener that
// panics is isolated to this single invocation; it does not take down the
// worker or affect other listeners.
func (s *Store) worker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case p, ok := <-s.workCh:
			if !ok {
				return
			}
			s.invokeListeners(p)
		}
	}
}

func (s *Store) invokeListeners(p *point.Point) {
	for _, f := range s.snapshotListeners() {
		s.invokeOne(f, p)
	}
}

func (s *Store) invokeOne(f ListenerFunc, p *point.Point) {
	defer func() {
		if r := recover(); r != nil {
			s.lg.Errorf("store: listener panicked for ioa %d: %v", p.IOA, r)
		}
	}()
	f(p)
}

// Shutdown marks the store as not-running, joins the dispatcher within
// ShutdownTimeout, and stops the worker pool within ShutdownTimeout.
// Pending notifications at the time of shutdown are dropped and logged.
func (s *Store) Shutdown() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.runMu.Unlock()

	waitWithTimeout(s.done, ShutdownTimeout)

	allStopped := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(allStopped)
	}()
	waitWithTimeout(allStopped, ShutdownTimeout)
}

func waitWithTimeout(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
