package queue

import (
	"context"
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/elysion/user-service/internal/core/domain"
	"github.com/elysion/user-service/internal/core/ports"
	"github.com/elysion/user-service/internal/infrastructure/mail"
	"github.com/elysion/user-service/internal/pkg/metrics"
)

const (
	defaultWorkers = 4
	channelBuffer  = 256
	maxAttempts    = 3
	retryBackoff   = 500 * time.Millisecond
)

const (
	kindActivation  = "activation"
	kindEmailChange = "email_change"
)

// job is one mail waiting for delivery.
type job struct {
	kind   string
	userID string
	msg    mail.Message
}

// Dispatcher delivers notification mails on a fixed set of workers. Jobs are
// sharded by user ID so mails for one user go out in order. It implements
// ports.MailNotifier: enqueueing never blocks the caller and a full worker
// queue drops the mail.
type Dispatcher struct {
	workers  []chan job
	mailer   mail.Mailer
	composer *mail.Composer
	log      zerolog.Logger
	backoff  time.Duration

	mu      sync.RWMutex
	stopped bool
	running sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with numWorkers sharded workers.
// If numWorkers <= 0, defaultWorkers is used.
func NewDispatcher(numWorkers int, mailer mail.Mailer, composer *mail.Composer, log zerolog.Logger) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	d := &Dispatcher{
		workers:  make([]chan job, numWorkers),
		mailer:   mailer,
		composer: composer,
		log:      log,
		backoff:  retryBackoff,
	}
	for i := range d.workers {
		d.workers[i] = make(chan job, channelBuffer)
	}
	return d
}

var _ ports.MailNotifier = (*Dispatcher)(nil)

// Start launches all worker goroutines. Workers stop when ctx is cancelled
// or, after Shutdown, once their queue is empty.
func (d *Dispatcher) Start(ctx context.Context) {
	for i, ch := range d.workers {
		d.running.Add(1)
		go func(id int, ch <-chan job) {
			defer d.running.Done()
			d.runWorker(ctx, id, ch)
		}(i, ch)
	}
}

// Shutdown stops accepting mail and waits until the workers have delivered
// everything already queued. It returns ctx.Err() if ctx ends first; the
// caller then cancels the workers' context to abandon the rest.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		for _, ch := range d.workers {
			close(ch)
		}
	}
	d.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		d.running.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		pending := 0
		for _, ch := range d.workers {
			pending += len(ch)
		}
		d.log.Warn().Int("pending", pending).Msg("mail queue not drained before deadline")
		return ctx.Err()
	}
}

func (d *Dispatcher) NotifyActivation(_ context.Context, user *domain.User, token *domain.Token) {
	d.enqueue(job{kind: kindActivation, userID: user.ID, msg: d.composer.Activation(user, token)})
}

func (d *Dispatcher) NotifyEmailChange(_ context.Context, user *domain.User, token *domain.Token) {
	d.enqueue(job{kind: kindEmailChange, userID: user.ID, msg: d.composer.EmailChange(user, token)})
}

func (d *Dispatcher) enqueue(j job) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		metrics.MailDeliveriesTotal.WithLabelValues(j.kind, "dropped").Inc()
		d.log.Error().
			Str("user_id", j.userID).
			Str("kind", j.kind).
			Msg("mail dispatcher stopped, notification dropped")
		return
	}

	idx := d.shardIndex(j.userID)
	select {
	case d.workers[idx] <- j:
		metrics.MailQueueDepth.WithLabelValues(strconv.Itoa(idx)).Set(float64(len(d.workers[idx])))
	default:
		metrics.MailDeliveriesTotal.WithLabelValues(j.kind, "dropped").Inc()
		d.log.Error().
			Str("user_id", j.userID).
			Str("kind", j.kind).
			Int("worker_id", idx).
			Msg("mail queue full, notification dropped")
	}
}

// shardIndex maps a user ID deterministically to a worker index.
func (d *Dispatcher) shardIndex(userID string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(len(d.workers)))
}

func (d *Dispatcher) runWorker(ctx context.Context, id int, ch <-chan job) {
	label := strconv.Itoa(id)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-ch:
			if !ok {
				return
			}
			metrics.MailQueueDepth.WithLabelValues(label).Set(float64(len(ch)))
			d.deliver(ctx, id, j)
		}
	}
}

// deliver retries transient failures with linear backoff. Failures never
// reach the request that triggered the mail.
func (d *Dispatcher) deliver(ctx context.Context, workerID int, j job) {
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = d.mailer.Send(ctx, j.msg); err == nil {
			metrics.MailDeliveriesTotal.WithLabelValues(j.kind, "sent").Inc()
			return
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}

	metrics.MailDeliveriesTotal.WithLabelValues(j.kind, "failed").Inc()
	d.log.Error().Err(err).
		Str("user_id", j.userID).
		Str("kind", j.kind).
		Int("worker_id", workerID).
		Msg("mail delivery failed")
}
