package metrics

import (
	"time"

	"github.com/sboxhq/sbox/pkg/artifacts"
	"github.com/sboxhq/sbox/pkg/types"
)

// SessionSource supplies the current session registry contents.
// Implemented by the session manager.
type SessionSource interface {
	Snapshot() []*types.Session
}

// Collector polls registry and catalog state into the gauges
type Collector struct {
	sessions SessionSource
	store    *artifacts.Store
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector. Either source may be nil;
// the corresponding gauges then stay at their last value.
func NewCollector(sessions SessionSource, store *artifacts.Store) *Collector {
	return &Collector{
		sessions: sessions,
		store:    store,
		stopCh:   make(chan struct{}),
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
	c.collectSessionMetrics()
	c.collectArtifactMetrics()
}

func (c *Collector) collectSessionMetrics() {
	if c.sessions == nil {
		return
	}

	counts := make(map[string]int)
	for _, sess := range c.sessions.Snapshot() {
		counts[string(sess.Storage)]++
	}

	// Reset so storage modes that dropped to zero read zero
	SessionsActive.Reset()
	for storage, count := range counts {
		SessionsActive.WithLabelValues(storage).Set(float64(count))
	}
}

func (c *Collector) collectArtifactMetrics() {
	if c.store == nil {
		return
	}

	stats, err := c.store.Stats()
	if err != nil {
		return
	}

	ArtifactsStored.Set(float64(stats.Artifacts))
	ArtifactStoreBytes.Set(float64(stats.TotalBytes))
}
