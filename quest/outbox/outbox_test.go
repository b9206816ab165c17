package outbox

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  []SendRequest
	times []time.Time
	fail  []error
}

func (f *fakeTransport) SendMessage(_ context.Context, req SendRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fail) > 0 {
		err := f.fail[0]
		f.fail = f.fail[1:]
		if err != nil {
			return err
		}
	}
	f.sent = append(f.sent, req)
	f.times = append(f.times, time.Now())
	return nil
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// timeoutErr satisfies net.Error so the retry predicate accepts it.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestQueueDeliversAsynchronously(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, Options{QueueSize: 4, Workers: 1})

	if err := q.Enqueue(context.Background(), SendRequest{ChatID: 1, Text: "hi"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if tr.sentCount() != 1 {
		t.Fatalf("expected 1 delivery, got %d", tr.sentCount())
	}
}

func TestQueueRetriesTransientFailures(t *testing.T) {
	tr := &fakeTransport{fail: []error{timeoutErr{}, timeoutErr{}}}
	q := New(tr, Options{
		QueueSize:    4,
		Workers:      1,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})

	if err := q.Enqueue(context.Background(), SendRequest{ChatID: 1, Text: "retry me"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if tr.sentCount() != 1 {
		t.Fatalf("expected eventual delivery, got %d", tr.sentCount())
	}
	if q.ErrorCount() != 0 {
		t.Fatalf("expected no exhausted sends, got %d", q.ErrorCount())
	}
}

func TestQueueGivesUpOnPermanentFailure(t *testing.T) {
	permanent := errors.New("400 bad request")
	tr := &fakeTransport{fail: []error{permanent}}
	q := New(tr, Options{
		QueueSize:    4,
		Workers:      1,
		MaxRetries:   3,
		RetryBackoff: time.Millisecond,
	})

	if err := q.Enqueue(context.Background(), SendRequest{ChatID: 1, Text: "doomed"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if tr.sentCount() != 0 {
		t.Fatalf("non-retryable error must not be retried, got %d sends", tr.sentCount())
	}
	if q.ErrorCount() != 1 {
		t.Fatalf("expected 1 exhausted send, got %d", q.ErrorCount())
	}
}

func TestQueueHonorsETA(t *testing.T) {
	tr := &fakeTransport{}
	q := New(tr, Options{QueueSize: 4, Workers: 1})

	start := time.Now()
	eta := start.Add(50 * time.Millisecond)
	if err := q.Enqueue(context.Background(), SendRequest{ChatID: 1, Text: "later", ETA: eta}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	q.Close()

	if tr.sentCount() != 1 {
		t.Fatalf("expected delivery, got %d", tr.sentCount())
	}
	if tr.times[0].Before(eta) {
		t.Fatalf("delivered %v before eta %v", tr.times[0], eta)
	}
}

func TestQueueFullRejectsWithoutBlocking(t *testing.T) {
	block := make(chan struct{})
	tr := &blockingTransport{release: block}
	q := New(tr, Options{QueueSize: 1, Workers: 1})
	defer func() {
		close(block)
		q.Close()
	}()

	// first fills the worker, second fills the buffer
	_ = q.Enqueue(context.Background(), SendRequest{ChatID: 1})
	tr.waitPickup(t)
	_ = q.Enqueue(context.Background(), SendRequest{ChatID: 2})

	err := q.Enqueue(context.Background(), SendRequest{ChatID: 3})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestQueueClosedRejectsEnqueue(t *testing.T) {
	q := New(&fakeTransport{}, Options{QueueSize: 1, Workers: 1})
	q.Close()
	if err := q.Enqueue(context.Background(), SendRequest{ChatID: 1}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
}

func TestSendNowBypassesQueue(t *testing.T) {
	block := make(chan struct{})
	tr := &blockingTransport{release: block}
	q := New(tr, Options{QueueSize: 1, Workers: 1})
	defer func() {
		close(block)
		q.Close()
	}()

	// saturate the worker so a queued send could not complete
	_ = q.Enqueue(context.Background(), SendRequest{ChatID: 1})
	tr.waitPickup(t)

	done := make(chan error, 1)
	go func() {
		done <- q.SendNow(context.Background(), SendRequest{ChatID: 99, Text: "now"})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("send now: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("SendNow blocked behind the queue")
	}
}

// blockingTransport parks queued sends until released; direct sends with
// ChatID >= 99 pass through immediately.
type blockingTransport struct {
	release <-chan struct{}
	pickup  sync.Once
	picked  chan struct{}
	mu      sync.Mutex
}

func (b *blockingTransport) SendMessage(_ context.Context, req SendRequest) error {
	b.mu.Lock()
	if b.picked == nil {
		b.picked = make(chan struct{})
	}
	picked := b.picked
	b.mu.Unlock()

	if req.ChatID >= 99 {
		return nil
	}
	b.pickup.Do(func() { close(picked) })
	<-b.release
	return nil
}

func (b *blockingTransport) waitPickup(t *testing.T) {
	t.Helper()
	b.mu.Lock()
	if b.picked == nil {
		b.picked = make(chan struct{})
	}
	picked := b.picked
	b.mu.Unlock()

	select {
	case <-picked:
	case <-time.After(time.Second):
		t.Fatal("worker never picked up the blocking send")
	}
}
