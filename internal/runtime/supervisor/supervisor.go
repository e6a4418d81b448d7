// Package supervisor manages the long-lived goroutines of the process
// under one shared context: named starts, panic recovery, optional
// cancel-on-first-error, restart loops with backoff, and a snapshot for
// the health endpoint.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hueplan/pkg/logx"
)

// Supervisor runs named goroutines tied to one context.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	log         logx.Logger
	cancelOnErr bool

	errOnce  sync.Once
	firstErr error
	errMu    sync.Mutex

	wg       sync.WaitGroup
	doneOnce sync.Once
	doneCh   chan struct{}

	mu    sync.Mutex
	stats map[string]*routineStats
}

type routineStats struct {
	active    int
	starts    uint64
	restarts  uint64
	panics    uint64
	lastErr   string
	lastErrAt time.Time
	lastStart time.Time
}

// RoutineStatus is the health-endpoint view of one named routine.
type RoutineStatus struct {
	Name      string    `json:"name"`
	Active    int       `json:"active"`
	Starts    uint64    `json:"starts"`
	Restarts  uint64    `json:"restarts"`
	Panics    uint64    `json:"panics"`
	LastErr   string    `json:"last_err,omitempty"`
	LastErrAt time.Time `json:"last_err_at,omitzero"`
}

// Snapshot is a point-in-time view of the supervisor, for observability
// only.
type Snapshot struct {
	FirstError string          `json:"first_error,omitempty"`
	Routines   []RoutineStatus `json:"routines"`
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the supervisor context on the first non-nil
// error or panic from any routine.
func WithCancelOnError() Option {
	return func(s *Supervisor) { s.cancelOnErr = true }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		stats:  map[string]*routineStats{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the shared context without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded error.
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.firstErr
}

func (s *Supervisor) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.errMu.Lock()
		s.firstErr = err
		s.errMu.Unlock()
	})
	if s.cancelOnErr {
		s.cancel()
	}
}

func (s *Supervisor) note(name string, f func(*routineStats)) {
	s.mu.Lock()
	st := s.stats[name]
	if st == nil {
		st = &routineStats{}
		s.stats[name] = st
	}
	f(st)
	s.mu.Unlock()
}

// Snapshot returns the current routine stats, sorted by name.
func (s *Supervisor) Snapshot() Snapshot {
	var snap Snapshot
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	s.mu.Lock()
	for name, st := range s.stats {
		snap.Routines = append(snap.Routines, RoutineStatus{
			Name:      name,
			Active:    st.active,
			Starts:    st.starts,
			Restarts:  st.restarts,
			Panics:    st.panics,
			LastErr:   st.lastErr,
			LastErrAt: st.lastErrAt,
		})
	}
	s.mu.Unlock()
	sort.Slice(snap.Routines, func(i, j int) bool {
		return snap.Routines[i].Name < snap.Routines[j].Name
	})
	return snap
}

// run invokes fn once with panic capture.
func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.note(name, func(st *routineStats) { st.panics++ })
			s.log.Error("routine panicked",
				logx.String("routine", name),
				logx.Any("panic", r),
				logx.String("stack", logx.StackTrace(3, 32)),
			)
			err = fmt.Errorf("%s panicked: %v", name, r)
		}
	}()
	return fn(s.ctx)
}

// Go starts fn once. A non-nil error other than context.Canceled is
// recorded as the supervisor error.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.note(name, func(st *routineStats) {
			st.active++
			st.starts++
			st.lastStart = time.Now()
		})
		err := s.run(name, fn)
		s.note(name, func(st *routineStats) {
			st.active--
			if err != nil && !errors.Is(err, context.Canceled) {
				st.lastErr = err.Error()
				st.lastErrAt = time.Now()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error("routine failed", logx.String("routine", name), logx.Err(err))
			s.setErr(fmt.Errorf("%s: %w", name, err))
			return
		}
		s.log.Debug("routine stopped", logx.String("routine", name))
	}()
}

const (
	restartBackoffMin = 250 * time.Millisecond
	restartBackoffMax = 30 * time.Second
	// A routine that ran this long before failing gets its backoff reset,
	// so rare failures don't accumulate long delays.
	restartHealthyAfter = 30 * time.Second
)

// GoRestart runs fn in a loop, restarting on error or panic with
// exponential backoff, until the context is cancelled or fn returns nil.
// Meant for long-running consumers that should self-heal.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		backoff := restartBackoffMin
		first := true
		for {
			if s.ctx.Err() != nil {
				return
			}
			startedAt := time.Now()
			s.note(name, func(st *routineStats) {
				st.active++
				st.starts++
				if !first {
					st.restarts++
				}
				st.lastStart = startedAt
			})
			first = false
			err := s.run(name, fn)
			s.note(name, func(st *routineStats) {
				st.active--
				if err != nil && !errors.Is(err, context.Canceled) {
					st.lastErr = err.Error()
					st.lastErrAt = time.Now()
				}
			})

			if s.ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return
			}
			if err == nil {
				s.log.Debug("routine finished", logx.String("routine", name))
				return
			}

			if time.Since(startedAt) >= restartHealthyAfter {
				backoff = restartBackoffMin
			}
			s.log.Warn("routine restarting",
				logx.String("routine", name),
				logx.Duration("backoff", backoff),
				logx.Err(err),
			)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > restartBackoffMax {
				backoff = restartBackoffMax
			}
		}
	}()
}

// Stop cancels the context and waits for every routine, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every routine has exited or ctx is done, and returns
// the first recorded error.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}
