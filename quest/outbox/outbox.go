// Package outbox queues outbound send operations for asynchronous delivery.
// It is the message-passing boundary between the synchronous per-update
// dispatch and the bot platform transport.
package outbox

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m3rciful/questbot/core/logger"
	"github.com/m3rciful/questbot/core/telegram/netutil"
	"github.com/m3rciful/questbot/quest"
)

var (
	// ErrQueueClosed is returned when enqueue is attempted after Close.
	ErrQueueClosed = errors.New("outbox: queue closed")
	// ErrQueueFull indicates the queue is saturated and the send was not accepted.
	ErrQueueFull = errors.New("outbox: queue full")

	tokenRe = regexp.MustCompile(`bot[0-9]+:[A-Za-z0-9_-]+`)
)

// SendRequest is one outbound send unit. ReplyTo of zero means "not a
// reply"; a zero ETA means "deliver as soon as a worker is free".
type SendRequest struct {
	BotID    int64
	ChatID   int64
	ReplyTo  int
	Keyboard *quest.Keyboard
	Text     string
	ETA      time.Time
}

// Transport delivers a send request to the bot platform.
type Transport interface {
	SendMessage(ctx context.Context, req SendRequest) error
}

// Options controls queue capacity and retry behaviour.
type Options struct {
	QueueSize    int
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration
	// MaxDuration bounds the time spent retrying a single send once it is
	// picked up by a worker.
	MaxDuration time.Duration
}

type job struct {
	ctx context.Context
	req SendRequest
}

// Queue executes outbound sends asynchronously with retries. Delivery is
// fire-and-forget from the engine's perspective.
type Queue struct {
	opts      Options
	transport Transport
	jobs      chan job
	stop      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	errs      atomic.Uint64
}

// New starts a queue with sane defaults for zeroed options.
func New(transport Transport, opts Options) *Queue {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 2 * time.Second
	}
	if opts.MaxDuration <= 0 {
		opts.MaxDuration = 12 * time.Second
	}

	q := &Queue{
		opts:      opts,
		transport: transport,
		jobs:      make(chan job, opts.QueueSize),
		stop:      make(chan struct{}),
	}

	q.wg.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go q.worker()
	}
	return q
}

// Enqueue schedules the send for asynchronous delivery.
func (q *Queue) Enqueue(ctx context.Context, req SendRequest) error {
	select {
	case <-q.stop:
		return ErrQueueClosed
	default:
	}

	select {
	case q.jobs <- job{ctx: ctx, req: req}:
		return nil
	default:
		return ErrQueueFull
	}
}

// SendNow delivers the request synchronously, bypassing the queue. Redirect
// summary sends use this path.
func (q *Queue) SendNow(ctx context.Context, req SendRequest) error {
	return q.transport.SendMessage(ctx, req)
}

// ErrorCount returns the number of sends that exhausted their retries.
func (q *Queue) ErrorCount() uint64 {
	return q.errs.Load()
}

// Close stops accepting work and waits for workers to drain queued sends.
func (q *Queue) Close() {
	q.once.Do(func() {
		close(q.stop)
		close(q.jobs)
		q.wg.Wait()
	})
}

func (q *Queue) worker() {
	defer q.wg.Done()
	for j := range q.jobs {
		q.handle(j)
	}
}

func (q *Queue) handle(j job) {
	ctx := j.ctx
	if ctx == nil {
		ctx = context.Background()
	}

	if !q.waitETA(ctx, j.req.ETA) {
		// shutdown or cancellation while holding a scheduled send; deliver
		// immediately rather than drop it
		logger.Debug(ctx, "outbox", "send.eta_cut",
			slog.Int64("chat_id", j.req.ChatID),
			slog.Time("eta", j.req.ETA),
		)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, q.opts.MaxDuration)
	defer cancel()

	start := time.Now()
	attempts := q.opts.MaxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := deadlineCtx.Err(); err != nil {
			lastErr = err
			break
		}

		err := q.transport.SendMessage(deadlineCtx, j.req)
		if err == nil {
			attrs := sendAttrs(j.req)
			if attempt > 1 {
				attrs = append(attrs, slog.Int("attempt", attempt))
			}
			attrs = append(attrs, slog.Duration("duration", logger.Took(start)))
			logger.Debug(ctx, "outbox", "send.success", attrs...)
			return
		}
		lastErr = err

		if !netutil.ShouldRetry(err) || attempt == attempts {
			break
		}

		delay := q.opts.RetryBackoff * time.Duration(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-deadlineCtx.Done():
			timer.Stop()
			lastErr = deadlineCtx.Err()
		case <-timer.C:
			logger.Debug(ctx, "outbox", "send.retry",
				append(sendAttrs(j.req),
					slog.Int("attempt", attempt),
					slog.Duration("delay", delay),
				)...,
			)
			continue
		}
		break
	}

	q.errs.Add(1)
	logger.Error(ctx, "outbox", "send.fail",
		append(sendAttrs(j.req),
			slog.String("err", sanitize(lastErr)),
			slog.Int("attempts", attempts),
			slog.Duration("duration", logger.Took(start)),
		)...,
	)
}

// waitETA blocks until the scheduled delivery time. It reports false when
// the wait was cut short by shutdown or context cancellation.
func (q *Queue) waitETA(ctx context.Context, eta time.Time) bool {
	if eta.IsZero() {
		return true
	}
	delay := time.Until(eta)
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-q.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

func sendAttrs(req SendRequest) []slog.Attr {
	attrs := []slog.Attr{
		slog.Int64("bot_id", req.BotID),
		slog.Int64("chat_id", req.ChatID),
	}
	if req.ReplyTo != 0 {
		attrs = append(attrs, slog.Int("reply_to", req.ReplyTo))
	}
	if req.Keyboard != nil {
		attrs = append(attrs, slog.Int("kb_rows", len(req.Keyboard.Rows)))
	}
	if !req.ETA.IsZero() {
		attrs = append(attrs, slog.Time("eta", req.ETA))
	}
	return attrs
}

// sanitize prevents accidental leakage of bot tokens through transport errors.
func sanitize(err error) string {
	if err == nil {
		return ""
	}
	return tokenRe.ReplaceAllString(err.Error(), "bot<redacted>")
}
