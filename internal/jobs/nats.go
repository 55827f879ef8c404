package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/arborhq/arbor/internal/common/config"
	"github.com/arborhq/arbor/internal/common/logger"
)

const (
	executeSubject    = "jobs.execute"
	cancelSubjectBase = "jobs.cancel"
	workerQueueGroup  = "arbor-workers"

	natsChanBuffer = 256
)

// NATSQueue implements Queue on NATS. Tasks go to a queue group so each is
// delivered to one worker; cancellations are broadcast to every worker.
type NATSQueue struct {
	conn   *nats.Conn
	logger *logger.Logger
}

var _ Queue = (*NATSQueue)(nil)

// NewNATSQueue connects to the broker with reconnection handling.
func NewNATSQueue(cfg config.NATSConfig, log *logger.Logger) (*NATSQueue, error) {
	log = log.WithFields(zap.String("component", "nats_queue"))

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error", zap.Error(err), zap.String("subject", sub.Subject))
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	log.Info("Connected to NATS", zap.String("url", cfg.URL))

	return &NATSQueue{conn: conn, logger: log}, nil
}

func (q *NATSQueue) Enqueue(_ context.Context, task *Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := q.conn.Publish(executeSubject, data); err != nil {
		return fmt.Errorf("publish task: %w", err)
	}
	return nil
}

// Consume reads tasks from the worker queue group until ctx ends. Each call
// holds its own subscription, so concurrent Consume loops share the load.
func (q *NATSQueue) Consume(ctx context.Context, handler func(ctx context.Context, task *Task)) error {
	ch := make(chan *nats.Msg, natsChanBuffer)
	sub, err := q.conn.ChanQueueSubscribe(executeSubject, workerQueueGroup, ch)
	if err != nil {
		return fmt.Errorf("queue subscribe: %w", err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	for {
		select {
		case msg := <-ch:
			var task Task
			if err := json.Unmarshal(msg.Data, &task); err != nil {
				q.logger.Error("Dropping malformed task", zap.Error(err))
				continue
			}
			handler(ctx, &task)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *NATSQueue) Cancel(_ context.Context, jobID string) error {
	if err := q.conn.Publish(cancelSubjectBase+"."+jobID, nil); err != nil {
		return fmt.Errorf("publish cancel: %w", err)
	}
	return nil
}

func (q *NATSQueue) OnCancel(ctx context.Context, handler func(jobID string)) error {
	sub, err := q.conn.Subscribe(cancelSubjectBase+".*", func(msg *nats.Msg) {
		jobID := strings.TrimPrefix(msg.Subject, cancelSubjectBase+".")
		handler(jobID)
	})
	if err != nil {
		return fmt.Errorf("subscribe cancel: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = sub.Unsubscribe()
	}()
	return nil
}

func (q *NATSQueue) Close() {
	q.conn.Close()
}
