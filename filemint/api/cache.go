package api

import (
	"time"

	"github.com/filemint/filemint/filemint/workflow"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	statusCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filemint_status_cache_hits_total",
		Help: "Status lookups served from the recent run cache.",
	})
	statusCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "filemint_status_cache_misses_total",
		Help: "Status lookups that fell through to the journal.",
	})
)

// StatusCache keeps the latest checkpoint of recent runs, by submission key and by run id.
type StatusCache struct {
	byKey *expirable.LRU[string, workflow.Checkpoint]
	byRun *expirable.LRU[string, string]
}

func NewStatusCache(size int, ttl time.Duration) *StatusCache {
	return &StatusCache{
		byKey: expirable.NewLRU[string, workflow.Checkpoint](size, nil, ttl),
		byRun: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

// Observe records a checkpoint. It has the shape of workflow.Options.OnTransition.
func (c *StatusCache) Observe(cp workflow.Checkpoint) {
	if cp.Key == "" {
		return
	}
	c.byKey.Add(cp.Key, cp)
	if cp.RunID != "" {
		c.byRun.Add(cp.RunID, cp.Key)
	}
}

// Get looks up a checkpoint by submission key or run id.
func (c *StatusCache) Get(id string) (workflow.Checkpoint, bool) {
	key := id
	if k, ok := c.byRun.Get(id); ok {
		key = k
	}
	cp, ok := c.byKey.Get(key)
	if ok {
		statusCacheHits.Inc()
		return cp, true
	}
	statusCacheMisses.Inc()
	return workflow.Checkpoint{}, false
}
