// Package worker drains the action-history stream into the database. It is
// the write side of the fire-and-forget audit channel: handlers only ever
// enqueue, so nothing here can fail a user-facing operation.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"gitrover/internal/metrics"
	"gitrover/internal/queue"
	"gitrover/internal/storage"
)

type Worker struct {
	store      *storage.Store
	queue      *queue.StreamQueue
	maxRetries int
	logger     zerolog.Logger
	metrics    *metrics.Metrics
}

type Config struct {
	Store      *storage.Store
	Queue      *queue.StreamQueue
	MaxRetries int
	Logger     zerolog.Logger
	Metrics    *metrics.Metrics
}

func New(cfg Config) *Worker {
	m := cfg.Metrics
	if m == nil {
		m = metrics.Global()
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Worker{
		store:      cfg.Store,
		queue:      cfg.Queue,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
		metrics:    m,
	}
}

func (w *Worker) Start(ctx context.Context, concurrency int) error {
	if err := w.queue.EnsureGroup(ctx); err != nil {
		return err
	}
	if concurrency < 1 {
		concurrency = 1
	}

	wg := sync.WaitGroup{}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			w.consumeLoop(ctx, slot)
		}(i)
	}

	<-ctx.Done()
	wg.Wait()
	return nil
}

func (w *Worker) consumeLoop(ctx context.Context, slot int) {
	log := w.logger.With().Int("slot", slot).Logger()
	for {
		if err := ctx.Err(); err != nil {
			return
		}

		messages, err := w.queue.Read(ctx, 10)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error().Err(err).Msg("failed to read action stream")
			time.Sleep(1 * time.Second)
			continue
		}
		if len(messages) == 0 {
			continue
		}

		for _, msg := range messages {
			err := w.persist(ctx, msg.Job)
			if err == nil {
				w.metrics.ActionsLogged.Inc()
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack action")
				}
				continue
			}

			log.Error().Err(err).
				Str("job_id", msg.Job.JobID).
				Int64("user_id", msg.Job.UserID).
				Str("action", msg.Job.Action).
				Int("attempt", msg.Job.Attempts).
				Msg("failed to persist action")

			if msg.Job.Attempts < w.maxRetries {
				msg.Job.Attempts++
				if _, enqueueErr := w.queue.Enqueue(ctx, msg.Job); enqueueErr != nil {
					log.Error().Err(enqueueErr).Str("job_id", msg.Job.JobID).Msg("failed to re-enqueue action")
					continue
				}
				if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
					log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack after re-enqueue")
				}
				continue
			}

			// Out of retries: the history loses one row, the user flow
			// already completed.
			w.metrics.ActionsDropped.Inc()
			if ackErr := w.queue.Ack(ctx, msg.ID); ackErr != nil {
				log.Error().Err(ackErr).Str("msg_id", msg.ID).Msg("failed to ack dropped action")
			}
		}
	}
}

func (w *Worker) persist(ctx context.Context, job queue.ActionJob) error {
	var repoName, filePath *string
	if job.RepoName != "" {
		repoName = &job.RepoName
	}
	if job.FilePath != "" {
		filePath = &job.FilePath
	}
	return w.store.LogAction(ctx, job.UserID, job.Action, repoName, filePath)
}
