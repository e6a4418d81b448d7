// Package listener keeps a resilient connection to the bridge's v2 event
// stream and fans incoming events out to registered handlers and the bus.
package listener

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"hueplan/internal/eventbus"
	"hueplan/internal/hue"
	"hueplan/pkg/logx"
)

// EventBridgeStream is the bus event type carrying a hue.Event payload.
const EventBridgeStream = "hue.event"

// Handler pairs a cheap predicate with the reaction to run when it matches.
// Handlers run sequentially on the listener goroutine; slow work belongs in
// a scheduled task, not here.
type Handler struct {
	Check  func(ev hue.Event) bool
	Handle func(ctx context.Context, ev hue.Event) error
}

const reconnectCap = 120 * time.Second

// Listener owns the reconnect loop. Stream failures back off exponentially
// up to reconnectCap; a successful connection resets the backoff.
type Listener struct {
	bridge *hue.ClientV2
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	handlers []Handler
}

func New(bridge *hue.ClientV2, bus eventbus.Bus, log logx.Logger) *Listener {
	return &Listener{bridge: bridge, bus: bus, log: log}
}

// Register adds a handler. Safe to call while Run is active; the new
// handler sees the next event.
func (l *Listener) Register(h Handler) {
	l.mu.Lock()
	l.handlers = append(l.handlers, h)
	l.mu.Unlock()
}

// ResetHandlers drops all handlers, used when a plan is re-applied.
func (l *Listener) ResetHandlers() {
	l.mu.Lock()
	l.handlers = nil
	l.mu.Unlock()
}

// Run blocks until ctx is done, reconnecting on any stream failure.
func (l *Listener) Run(ctx context.Context) error {
	l.log.Debug("event stream listener started")
	retries := 0
	for ctx.Err() == nil {
		connected, err := l.listenOnce(ctx)
		if connected {
			// A stream that was up counts as recovery even if it dropped
			// later; the next failure starts from the smallest backoff.
			retries = 0
		}
		if err != nil && ctx.Err() == nil {
			backoff := time.Duration(1<<uint(retries)) * time.Second
			if backoff > reconnectCap || backoff <= 0 {
				backoff = reconnectCap
			}
			retries++
			l.log.Warn("event stream closed, reconnecting",
				logx.Err(err),
				logx.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
			case <-time.After(backoff):
			}
		}
	}
	l.log.Info("event stream listener stopped")
	return nil
}

// listenOnce consumes one stream until it fails. The bool reports whether a
// connection was established at all, so Run can reset its backoff.
func (l *Listener) listenOnce(ctx context.Context) (bool, error) {
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := l.bridge.EventStream(sctx)
	if err != nil {
		return false, err
	}
	defer stream.Close()
	l.log.Info("hue event stream connected")

	for {
		ev, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return true, errors.New("stream closed by bridge")
			}
			return true, err
		}
		l.dispatch(ctx, ev)
	}
}

func (l *Listener) dispatch(ctx context.Context, ev hue.Event) {
	if l.bus != nil {
		l.bus.Publish(eventbus.Event{Type: EventBridgeStream, Data: ev})
	}

	l.mu.Lock()
	handlers := make([]Handler, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, h := range handlers {
		if h.Check != nil && !h.Check(ev) {
			continue
		}
		l.log.Debug("event matched handler", logx.String("event_id", ev.ID))
		if err := h.Handle(ctx, ev); err != nil {
			l.log.Error("event handler failed", logx.String("event_id", ev.ID), logx.Err(err))
		}
	}
}
