package zlog

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config bounds the long-lived behavior of a Striper not otherwise carried
// on the wire: how wide a freshly created stripe is and how often the
// refresh worker polls in the absence of waiters.
type Config struct {
	// DefaultWidth/DefaultSlots seed ExpandMapping when the current
	// ObjectMap is empty (Open Question 2, SPEC_FULL.md §9): they are the
	// log's configured stripe shape, not a caller-supplied override.
	DefaultWidth uint32
	DefaultSlots uint64

	// RefreshInterval bounds how long the refresh worker can go without
	// polling the backend when no waiter is pending. Defaults to 2s.
	RefreshInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DefaultWidth == 0 {
		c.DefaultWidth = 4
	}
	if c.DefaultSlots == 0 {
		c.DefaultSlots = 1024
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 2 * time.Second
	}
	return c
}

// Striper owns the current View of one log instance, runs the three
// background workers described in SPEC_FULL.md §4.5 (refresh, expander,
// stripe-init), and implements the view-transition protocol (propose, seal,
// activate). It is the engine of the package.
type Striper struct {
	log     *zap.Logger
	backend Backend
	hoid    string
	prefix  string
	secret  string
	cfg     Config

	// currentView is the sole shared, atomically swappable reference to the
	// active View. Readers take a snapshot and operate against it without
	// further coordination for the duration of one operation.
	currentView atomic.Pointer[View]

	// mu guards everything below: the refresh-waiter list, the expander's
	// pending slot, the stripe-init queue, and the shutdown flag. It is held
	// only across pointer swaps and queue manipulation; backend calls and
	// view materialization happen outside it.
	mu             sync.Mutex
	refreshWaiters []*refreshWaiter
	pendingExpand  *uint64
	stripeInitQ    []uint64
	shuttingDown   bool

	wakeRefresh  chan struct{}
	wakeExpander chan struct{}
	wakeInit     chan struct{}
	shutdownCh   chan struct{}
	wg           sync.WaitGroup
}

// NewStriper constructs a Striper for a log whose head object is hoid, whose
// backend object names are derived from prefix, using secret to recognize
// views naming this instance as sequencer. It starts the three background
// workers immediately; callers must call Shutdown before discarding it.
func NewStriper(log *zap.Logger, backend Backend, hoid, prefix, secret string, cfg Config) *Striper {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Striper{
		log:          log.Named("striper"),
		backend:      backend,
		hoid:         hoid,
		prefix:       prefix,
		secret:       secret,
		cfg:          cfg.withDefaults(),
		wakeRefresh:  make(chan struct{}, 1),
		wakeExpander: make(chan struct{}, 1),
		wakeInit:     make(chan struct{}, 1),
		shutdownCh:   make(chan struct{}),
	}
	s.currentView.Store(&View{Epoch: 0, ObjectMap: NewObjectMap()})

	s.wg.Add(3)
	go s.refreshLoop()
	go s.expanderLoop()
	go s.stripeInitLoop()
	return s
}

// CurrentView returns the Striper's current snapshot without waiting. It may
// have Epoch 0 if no refresh has completed yet; public callers should
// generally prefer View, which waits for a valid view on first call.
func (s *Striper) CurrentView() View {
	return *s.currentView.Load()
}

// Shutdown signals all workers to exit, wakes every waiter with
// ErrShutdown, and joins the workers. It is safe to call once.
func (s *Striper) Shutdown() {
	s.mu.Lock()
	if s.shuttingDown {
		s.mu.Unlock()
		return
	}
	s.shuttingDown = true
	waiters := s.refreshWaiters
	s.refreshWaiters = nil
	s.mu.Unlock()

	for _, w := range waiters {
		w.deliver(ErrShutdown)
	}
	close(s.shutdownCh)
	s.wg.Wait()
}

func (s *Striper) wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
