package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []Message
	failures int
}

func (s *recordingSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failures > 0 {
		s.failures--
		return errors.New("smtp unavailable")
	}

	s.messages = append(s.messages, msg)
	return nil
}

func (s *recordingSender) sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func waitForMessages(t *testing.T, s *recordingSender, want int) []Message {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		msgs := s.sent()
		if len(msgs) >= want {
			return msgs
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d messages, got %d", want, len(s.sent()))
	return nil
}

func TestDispatcherDelivers(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	id := d.Enqueue(Message{Subject: "Order #1 Confirmation", To: "asha@example.com", HTMLBody: "<p>hi</p>"})
	assert.NotEqual(t, uuid.Nil, id)

	msgs := waitForMessages(t, sender, 1)
	assert.Equal(t, "Order #1 Confirmation", msgs[0].Subject)
	assert.Equal(t, "asha@example.com", msgs[0].To)

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not stop after cancel")
	}
}

func TestDispatcherRetriesTransientFailure(t *testing.T) {
	sender := &recordingSender{failures: 2}
	d := NewDispatcher(sender, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go d.Run(ctx)

	d.Enqueue(Message{Subject: "Order #2 Dispatched", To: "ravi@example.com"})

	msgs := waitForMessages(t, sender, 1)
	assert.Equal(t, "Order #2 Dispatched", msgs[0].Subject)
}

func TestDispatcherEnqueueDoesNotBlockWhenFull(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, zap.NewNop())

	// воркеры не запущены, очередь только наполняется
	for i := 0; i < defaultQueueSize; i++ {
		d.Enqueue(Message{Subject: "fill", To: "x@example.com"})
	}

	done := make(chan uuid.UUID, 1)
	go func() {
		done <- d.Enqueue(Message{Subject: "overflow", To: "x@example.com"})
	}()

	select {
	case id := <-done:
		require.NotEqual(t, uuid.Nil, id)
	case <-time.After(time.Second):
		t.Fatal("Enqueue blocked on full queue")
	}
}
