package raftfsm

import (
	"time"

	"github.com/cuemby/raftsession/pkg/metrics"
	"github.com/cuemby/raftsession/pkg/session"
)

// MetricsCollector periodically samples a Node's session registry and Raft
// state into the process's Prometheus gauges: a ticker-driven goroutine
// pulling read-only snapshots rather than updating gauges inline on every
// state change.
type MetricsCollector struct {
	node   *Node
	stopCh chan struct{}
}

// NewMetricsCollector creates a collector for node.
func NewMetricsCollector(node *Node) *MetricsCollector {
	return &MetricsCollector{
		node:   node,
		stopCh: make(chan struct{}),
	}
}

// Start begins collecting on a 15-second tick, sampling immediately first.
func (c *MetricsCollector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
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

// Stop stops the collector.
func (c *MetricsCollector) Stop() {
	close(c.stopCh)
}

func (c *MetricsCollector) collect() {
	c.collectSessionMetrics()
	c.collectRaftMetrics()
}

func (c *MetricsCollector) collectSessionMetrics() {
	var open, closed, pending int
	c.node.Sessions().Each(func(s *session.Session) {
		if s.IsOpen() {
			open++
		} else {
			closed++
		}
		pending += s.PendingEventBatches()
	})

	metrics.SessionsTotal.WithLabelValues("open").Set(float64(open))
	metrics.SessionsTotal.WithLabelValues("closed").Set(float64(closed))
	metrics.PendingEventBatches.Set(float64(pending))
}

func (c *MetricsCollector) collectRaftMetrics() {
	if c.node.IsLeader() {
		metrics.RaftLeader.Set(1)
	} else {
		metrics.RaftLeader.Set(0)
	}

	stats := c.node.GetRaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"].(uint64); ok {
		metrics.RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"].(uint64); ok {
		metrics.RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["peers"].(uint64); ok {
		metrics.RaftPeers.Set(float64(peers))
	}
}
