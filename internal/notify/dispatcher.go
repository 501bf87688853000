package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

const (
	defaultQueueSize   = 1024
	defaultWorkers     = 4
	defaultSendTimeout = 30 * time.Second
	maxSendAttempts    = 3
)

// Job — одно запланированное уведомление в очереди диспетчера.
type Job struct {
	ID      uuid.UUID
	Message Message
}

// Dispatcher планирует уведомления по принципу fire-and-forget:
// постановка в очередь не блокирует вызывающего, доставкой занимается
// пул воркеров, сбои доставки логируются и никогда не распространяются
// на уже зафиксированное состояние заказа. Порядок доставки нескольких
// уведомлений одного заказа не гарантируется.
type Dispatcher struct {
	sender      Sender
	logger      *zap.Logger
	jobs        chan Job
	workers     int
	sendTimeout time.Duration
	wg          sync.WaitGroup
}

// NewDispatcher создаёт диспетчер уведомлений поверх указанного отправителя.
func NewDispatcher(sender Sender, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		sender:      sender,
		logger:      logger,
		jobs:        make(chan Job, defaultQueueSize),
		workers:     defaultWorkers,
		sendTimeout: defaultSendTimeout,
	}
}

// Run запускает пул воркеров и блокируется до отмены контекста.
func (d *Dispatcher) Run(ctx context.Context) {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case job := <-d.jobs:
					d.deliver(ctx, job)
				}
			}
		}()
	}
	d.wg.Wait()
}

// Enqueue ставит уведомление в очередь без блокировки.
// При переполненной очереди уведомление отбрасывается с записью в лог.
func (d *Dispatcher) Enqueue(msg Message) uuid.UUID {
	job := Job{ID: uuid.New(), Message: msg}
	select {
	case d.jobs <- job:
	default:
		d.logger.Warn("notification queue full, dropping message",
			zap.String("job_id", job.ID.String()),
			zap.String("to", msg.To),
			zap.String("subject", msg.Subject),
		)
	}
	return job.ID
}

func (d *Dispatcher) deliver(ctx context.Context, job Job) {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	backoff := retry.WithMaxRetries(maxSendAttempts-1, retry.NewExponential(500*time.Millisecond))

	err := retry.Do(sendCtx, backoff, func(ctx context.Context) error {
		if err := d.sender.Send(ctx, job.Message); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		d.logger.Error("notification delivery failed",
			zap.Error(err),
			zap.String("job_id", job.ID.String()),
			zap.String("to", job.Message.To),
			zap.String("subject", job.Message.Subject),
		)
		return
	}

	d.logger.Info("notification delivered",
		zap.String("job_id", job.ID.String()),
		zap.String("to", job.Message.To),
		zap.String("subject", job.Message.Subject),
	)
}
