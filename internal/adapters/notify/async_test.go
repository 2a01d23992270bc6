package notify_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alejandrodnm/polyedge/internal/adapters/notify"
	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/stretchr/testify/assert"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.EventKind
	block  chan struct{}
}

func (r *recordingSink) Notify(_ context.Context, ev domain.Event) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, ev.Kind)
	r.mu.Unlock()
}

func (r *recordingSink) kinds() []domain.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EventKind(nil), r.events...)
}

func TestAsync_FansOutInOrder(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	n := notify.NewAsync(8, a, b)

	n.Notify(context.Background(), domain.Event{Kind: domain.EventStarted})
	n.Notify(context.Background(), domain.Event{Kind: domain.EventTradeOpened})
	n.Close()

	want := []domain.EventKind{domain.EventStarted, domain.EventTradeOpened}
	assert.Equal(t, want, a.kinds())
	assert.Equal(t, want, b.kinds())
}

func TestAsync_SlowSinkDoesNotBlock(t *testing.T) {
	slow := &recordingSink{block: make(chan struct{})}
	fast := &recordingSink{}
	n := notify.NewAsync(1, slow, fast)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			n.Notify(context.Background(), domain.Event{Kind: domain.EventCycleReport})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a slow sink")
	}

	close(slow.block)
	n.Close()
	assert.Less(t, len(slow.kinds()), 10, "overflow events are dropped")
	assert.NotEmpty(t, fast.kinds())
}
