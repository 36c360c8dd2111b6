package metrics

import (
	"strconv"
	"time"

	"github.com/cuemby/granary/pkg/storage"
	"github.com/cuemby/granary/pkg/types"
)

// Collector periodically refreshes the content gauges from the store
type Collector struct {
	store  storage.Store
	stopCh chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(store storage.Store) *Collector {
	return &Collector{
		store:  store,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectCrateMetrics()
	c.collectUserMetrics()
	c.collectDocsJobMetrics()
}

func (c *Collector) collectCrateMetrics() {
	crates, err := c.store.ListCrates()
	if err != nil {
		return
	}
	CratesTotal.Set(float64(len(crates)))

	versions := 0
	for _, crate := range crates {
		rows, err := c.store.VersionsOf(crate.Name)
		if err != nil {
			continue
		}
		versions += len(rows)
	}
	VersionsTotal.Set(float64(versions))
}

func (c *Collector) collectUserMetrics() {
	users, err := c.store.ListUsers()
	if err != nil {
		return
	}
	counts := map[bool]int{}
	for _, user := range users {
		counts[user.IsActive]++
	}
	for active, count := range counts {
		UsersTotal.WithLabelValues(strconv.FormatBool(active)).Set(float64(count))
	}
}

func (c *Collector) collectDocsJobMetrics() {
	jobs, err := c.store.ListDocsJobs()
	if err != nil {
		return
	}
	counts := map[types.DocsJobState]int{
		types.DocsJobQueued:    0,
		types.DocsJobRunning:   0,
		types.DocsJobSucceeded: 0,
		types.DocsJobFailed:    0,
	}
	for _, job := range jobs {
		counts[job.State]++
	}
	for state, count := range counts {
		DocsJobsByState.WithLabelValues(string(state)).Set(float64(count))
	}
}
