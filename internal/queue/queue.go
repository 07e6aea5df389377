// Package queue carries processing tasks over Kafka. Delivery is
// at-least-once: offsets are committed only after a task has settled.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"photogallery/internal/models"
)

type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

func NewKafkaWriter(cfg models.KafkaConfig) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewKafkaReader(cfg models.KafkaConfig) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
}

type Producer struct {
	w   Writer
	log zerolog.Logger
}

func NewProducer(w Writer, log zerolog.Logger) *Producer {
	return &Producer{w: w, log: log.With().Str("component", "producer").Logger()}
}

// Enqueue submits one task keyed by image id, so redeliveries of the same
// image land on the same partition.
func (p *Producer) Enqueue(ctx context.Context, task models.ProcessTask) error {
	const op = "queue.Enqueue"

	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	err = p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(strconv.FormatInt(task.ImageID, 10)),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.log.Debug().Int64("image_id", task.ImageID).Msg("task enqueued")
	return nil
}

func (p *Producer) Close() error {
	return p.w.Close()
}

// Handler runs one attempt of a task. Errors wrapping models.ErrTransientIO
// are retried; anything else settles the task.
type Handler interface {
	Process(ctx context.Context, task models.ProcessTask) error
}

type HandlerFunc func(ctx context.Context, task models.ProcessTask) error

func (f HandlerFunc) Process(ctx context.Context, task models.ProcessTask) error {
	return f(ctx, task)
}

func Retryable(err error) bool {
	return errors.Is(err, models.ErrTransientIO)
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func PolicyFromConfig(cfg models.ProcessingConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: cfg.MaxAttempts, BaseDelay: cfg.BackoffBase, MaxDelay: cfg.BackoffMax}
}

func (p RetryPolicy) newBackOff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

type Consumer struct {
	r           Reader
	handler     Handler
	policy      RetryPolicy
	workers     int
	taskTimeout time.Duration
	log         zerolog.Logger
}

func NewConsumer(r Reader, handler Handler, policy RetryPolicy, workers int, taskTimeout time.Duration, log zerolog.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{
		r:           r,
		handler:     handler,
		policy:      policy,
		workers:     workers,
		taskTimeout: taskTimeout,
		log:         log.With().Str("component", "consumer").Logger(),
	}
}

// Run fetches messages and hands them to the worker pool until ctx ends.
func (c *Consumer) Run(ctx context.Context) error {
	jobs := make(chan kafka.Message)
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for msg := range jobs {
				c.handle(ctx, msg)
			}
		}()
	}

	c.log.Info().Int("workers", c.workers).Msg("consumer started")
	defer func() {
		close(jobs)
		wg.Wait()
		c.log.Info().Msg("consumer stopped")
	}()

	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Error().Err(err).Msg("fetch message")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		select {
		case jobs <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var task models.ProcessTask
	if err := json.Unmarshal(msg.Value, &task); err != nil || task.ImageID == 0 {
		c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("dropping malformed task")
		c.commit(ctx, msg)
		return
	}

	err := c.Execute(ctx, task)
	if ctx.Err() != nil {
		// Shutting down mid-task: leave the offset for redelivery.
		return
	}
	if err != nil {
		c.log.Error().Err(err).Int64("image_id", task.ImageID).Msg("task settled with error")
	}
	c.commit(ctx, msg)
}

// Execute runs task with exponential backoff between retryable failures,
// up to the policy's attempt ceiling.
func (c *Consumer) Execute(ctx context.Context, task models.ProcessTask) error {
	attempt := task.Attempt
	op := func() error {
		attempt++
		t := task
		t.Attempt = attempt

		runCtx := ctx
		if c.taskTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, c.taskTimeout)
			defer cancel()
		}
		err := c.handler.Process(runCtx, t)
		if err != nil && !Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.log.Warn().Err(err).Int64("image_id", task.ImageID).Int("attempt", attempt).
			Dur("retry_in", wait).Msg("task failed, retrying")
	}
	return backoff.RetryNotify(op, c.policy.newBackOff(ctx), notify)
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.r.CommitMessages(ctx, msg); err != nil {
		c.log.Error().Err(err).Int64("offset", msg.Offset).Msg("commit message")
	}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}
