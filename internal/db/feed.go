package db

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pawsos/backend/internal/models"
	"github.com/pawsos/backend/internal/service"
)

// changeListener collects ids of changed cases without ever blocking the publisher.
// A resync marks every subscription as stale; close ends the subscription.
type changeListener struct {
	mu      sync.Mutex
	pending map[string]struct{}
	resync  bool
	signal  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once
}

func newChangeListener() *changeListener {
	return &changeListener{
		pending: map[string]struct{}{},
		signal:  make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (l *changeListener) push(id string) {
	l.mu.Lock()
	l.pending[id] = struct{}{}
	l.mu.Unlock()
	l.notify()
}

func (l *changeListener) pushAll() {
	l.mu.Lock()
	l.resync = true
	l.mu.Unlock()
	l.notify()
}

func (l *changeListener) notify() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *changeListener) take() ([]string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]string, 0, len(l.pending))
	for id := range l.pending {
		ids = append(ids, id)
	}
	clear(l.pending)
	all := l.resync
	l.resync = false
	return ids, all
}

func (l *changeListener) close() {
	l.closeOnce.Do(func() { close(l.closed) })
}

// changeHub fans case changes out to every open subscription of one store.
type changeHub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]*changeListener
}

func (h *changeHub) listen() (*changeListener, func()) {
	l := newChangeListener()
	h.mu.Lock()
	if h.listeners == nil {
		h.listeners = map[int]*changeListener{}
	}
	id := h.nextID
	h.nextID++
	h.listeners[id] = l
	h.mu.Unlock()

	return l, func() {
		h.mu.Lock()
		delete(h.listeners, id)
		h.mu.Unlock()
	}
}

func (h *changeHub) publish(ids ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		for _, id := range ids {
			l.push(id)
		}
	}
}

// resync makes every open subscription re-read its snapshot.
func (h *changeHub) resync() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, l := range h.listeners {
		l.pushAll()
	}
}

// closeAll ends every open subscription; their Updates channels close.
func (h *changeHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, l := range h.listeners {
		l.close()
		delete(h.listeners, id)
	}
}

func (h *changeHub) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// subscription re-reads a snapshot whenever a relevant case changes and keeps only
// the newest undelivered snapshot for slow consumers.
type subscription[T any] struct {
	ch     chan T
	cancel context.CancelFunc
	done   chan struct{}
}

func (s *subscription[T]) Updates() <-chan T {
	return s.ch
}

func (s *subscription[T]) Close() error {
	s.cancel()
	<-s.done
	return nil
}

type snapshotFunc[T any] func(ctx context.Context) (T, error)

// startSubscription takes ownership of l and calls stop when the subscription ends.
func startSubscription[T any](ctx context.Context, l *changeListener, stop func(), relevant func(id string) bool, snapshot snapshotFunc[T], logger zerolog.Logger) (*subscription[T], error) {
	first, err := snapshot(ctx)
	if err != nil {
		stop()
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &subscription[T]{ch: make(chan T, 1), cancel: cancel, done: make(chan struct{})}
	s.ch <- first

	go func() {
		defer close(s.done)
		defer close(s.ch)
		defer stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.closed:
				return
			case <-l.signal:
			}
			ids, all := l.take()
			if !all && !anyRelevant(ids, relevant) {
				continue
			}
			v, err := snapshot(ctx)
			if errors.Is(err, service.ErrNotFound) {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn().Err(err).Msg("subscription snapshot failed")
				continue
			}
			select {
			case <-s.ch:
			default:
			}
			s.ch <- v
		}
	}()
	return s, nil
}

func anyRelevant(ids []string, relevant func(string) bool) bool {
	if relevant == nil {
		return len(ids) > 0
	}
	for _, id := range ids {
		if relevant(id) {
			return true
		}
	}
	return false
}

func caseSnapshot(get func(ctx context.Context, id string) (models.Case, error), id string) snapshotFunc[models.Case] {
	return func(ctx context.Context) (models.Case, error) {
		return get(ctx, id)
	}
}

func listSnapshot(list func(ctx context.Context, f service.CaseFilter) ([]models.Case, error), f service.CaseFilter) snapshotFunc[[]models.Case] {
	return func(ctx context.Context) ([]models.Case, error) {
		return list(ctx, f)
	}
}
