package docs

import (
	"context"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/granary/pkg/blob"
	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/log"
	"github.com/cuemby/granary/pkg/metrics"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

const (
	pollInterval = 30 * time.Second
	maxAttempts  = 3
	jobTimeout   = 5 * time.Minute
)

// Generator produces the documentation artifact tree for one crate version.
// The returned map is artifact path → content; paths are relative to the
// docs/{name}/{vers}/ object prefix.
type Generator interface {
	Generate(ctx context.Context, job *types.DocsJob) (map[string][]byte, error)
}

// Uploader is the subset of the blob client the worker needs.
type Uploader interface {
	Put(ctx context.Context, key string, data []byte) error
}

// Worker drains the docs job queue: it claims queued jobs with a
// compare-and-set, runs the generator, and uploads the artifact tree to the
// blob store under the canonical docs layout.
type Worker struct {
	store     storage.Store
	blobs     Uploader
	broker    *events.Broker
	generator Generator

	stopCh chan struct{}
	doneCh chan struct{}
	logger zerolog.Logger
}

// NewWorker creates a docs worker.
func NewWorker(store storage.Store, blobs Uploader, broker *events.Broker, generator Generator) *Worker {
	if generator == nil {
		generator = placeholderGenerator{}
	}
	return &Worker{
		store:     store,
		blobs:     blobs,
		broker:    broker,
		generator: generator,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
		logger:    log.WithComponent("docs"),
	}
}

// Start runs the worker loop. Publish events wake the worker immediately;
// the poll interval covers jobs left over from a previous process.
func (w *Worker) Start() {
	go w.run()
}

// Stop terminates the worker loop and waits for the in-flight job to finish.
func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

func (w *Worker) run() {
	defer close(w.doneCh)

	var wake <-chan events.Event
	if w.broker != nil {
		sub := w.broker.Subscribe(events.EventDocsQueued)
		defer w.broker.Unsubscribe(sub)
		wake = sub.C()
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	w.drain()
	for {
		select {
		case <-ticker.C:
			w.drain()
		case _, open := <-wake:
			if !open {
				// Broker closed; keep polling until stopped.
				wake = nil
				continue
			}
			w.drain()
		case <-w.stopCh:
			return
		}
	}
}

// drain processes queued jobs until the queue is empty.
func (w *Worker) drain() {
	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		job, err := w.store.TakeDocsJob()
		if err != nil {
			w.logger.Error().Err(err).Msg("failed to claim docs job")
			return
		}
		if job == nil {
			return
		}
		w.process(job)
	}
}

func (w *Worker) process(job *types.DocsJob) {
	logger := log.WithCrate(job.CrateName, job.Version)
	timer := metrics.NewTimer()

	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	err := w.build(ctx, job)
	timer.ObserveDuration(metrics.DocsJobDuration)

	if err == nil {
		if err := w.store.CompleteDocsJob(job.ID, true); err != nil {
			logger.Error().Err(err).Msg("failed to mark docs job succeeded")
			return
		}
		metrics.DocsJobsTotal.WithLabelValues(string(types.DocsJobSucceeded)).Inc()
		w.notify(events.EventDocsCompleted, job)
		logger.Info().Msg("docs job succeeded")
		return
	}

	logger.Warn().Err(err).Int("attempts", job.Attempts).Msg("docs job failed")
	if job.Attempts < maxAttempts {
		// Requeue for another attempt.
		if err := w.store.CompleteDocsJob(job.ID, false); err == nil {
			if _, err := w.store.EnqueueDocsJob(job.CrateName, job.Version); err != nil {
				logger.Error().Err(err).Msg("failed to requeue docs job")
			}
		}
		return
	}
	if err := w.store.CompleteDocsJob(job.ID, false); err != nil {
		logger.Error().Err(err).Msg("failed to mark docs job failed")
		return
	}
	metrics.DocsJobsTotal.WithLabelValues(string(types.DocsJobFailed)).Inc()
	w.notify(events.EventDocsFailed, job)
}

// notify publishes a docs lifecycle event when a broker is attached.
func (w *Worker) notify(eventType events.EventType, job *types.DocsJob) {
	if w.broker == nil {
		return
	}
	w.broker.Publish(events.Event{
		Type:    eventType,
		Crate:   job.CrateName,
		Version: job.Version,
	})
}

func (w *Worker) build(ctx context.Context, job *types.DocsJob) error {
	artifacts, err := w.generator.Generate(ctx, job)
	if err != nil {
		return fmt.Errorf("generator failed: %w", err)
	}
	for path, content := range artifacts {
		key := blob.DocsKey(job.CrateName, job.Version, path)
		if err := w.blobs.Put(ctx, key, content); err != nil {
			return fmt.Errorf("failed to upload %s: %w", key, err)
		}
	}
	return nil
}

// placeholderGenerator emits a minimal landing page honoring the artifact
// layout. The real generator runs in the external documentation worker; this
// keeps the contract exercised end to end.
type placeholderGenerator struct{}

func (placeholderGenerator) Generate(_ context.Context, job *types.DocsJob) (map[string][]byte, error) {
	page := fmt.Sprintf(
		"<!DOCTYPE html>\n<html><head><title>%s %s</title></head>\n"+
			"<body><h1>%s %s</h1><p>Documentation pending generation.</p></body></html>\n",
		html.EscapeString(job.CrateName), html.EscapeString(job.Version),
		html.EscapeString(job.CrateName), html.EscapeString(job.Version),
	)
	return map[string][]byte{"index.html": []byte(page)}, nil
}
