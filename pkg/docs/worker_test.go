package docs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/granary/pkg/events"
	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

// memoryUploader records uploaded objects.
type memoryUploader struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemoryUploader() *memoryUploader {
	return &memoryUploader{objects: make(map[string][]byte)}
}

func (m *memoryUploader) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryUploader) get(key string) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[key]
}

// failingGenerator always errors.
type failingGenerator struct{}

func (failingGenerator) Generate(context.Context, *types.DocsJob) (map[string][]byte, error) {
	return nil, errors.New("boom")
}

func newWorkerFixture(t *testing.T, generator Generator) (*Worker, storage.Store, *memoryUploader) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	broker := events.NewBroker()
	t.Cleanup(broker.Close)

	uploader := newMemoryUploader()
	return NewWorker(store, uploader, broker, generator), store, uploader
}

func waitForState(t *testing.T, store storage.Store, state types.DocsJobState) *types.DocsJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		jobs, err := store.ListDocsJobs()
		require.NoError(t, err)
		for _, job := range jobs {
			if job.State == state {
				return job
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no docs job reached state %s", state)
	return nil
}

func TestWorkerProcessesQueuedJob(t *testing.T) {
	worker, store, uploader := newWorkerFixture(t, nil)

	_, err := store.EnqueueDocsJob("foo", "0.1.0")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop()

	job := waitForState(t, store, types.DocsJobSucceeded)
	assert.Equal(t, "foo", job.CrateName)

	page := uploader.get("docs/foo/0.1.0/index.html")
	require.NotNil(t, page)
	assert.Contains(t, string(page), "foo 0.1.0")
}

func TestWorkerRetriesThenFails(t *testing.T) {
	worker, store, _ := newWorkerFixture(t, failingGenerator{})

	_, err := store.EnqueueDocsJob("foo", "0.1.0")
	require.NoError(t, err)

	worker.Start()
	defer worker.Stop()

	job := waitForState(t, store, types.DocsJobFailed)
	// waitForState can observe an intermediate failed state between retries;
	// wait until attempts are exhausted.
	deadline := time.Now().Add(5 * time.Second)
	for job.Attempts < 3 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
		job = waitForState(t, store, types.DocsJobFailed)
	}
	assert.GreaterOrEqual(t, job.Attempts, 3)
}

func TestWorkerWakesOnPublishEvent(t *testing.T) {
	worker, store, _ := newWorkerFixture(t, nil)
	worker.Start()
	defer worker.Stop()

	// Queue after the worker drained an empty queue; the event should wake
	// it well before the poll interval.
	_, err := store.EnqueueDocsJob("bar", "1.0.0")
	require.NoError(t, err)
	worker.broker.Publish(events.Event{Type: events.EventDocsQueued, Crate: "bar", Version: "1.0.0"})

	waitForState(t, store, types.DocsJobSucceeded)
}
