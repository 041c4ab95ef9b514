package search

// monitor.go: statistics for one search run

import (
	"fmt"
	"sync"
	"time"

	"github.com/gitrdm/gokanbtd/pkg/td"
)

// SearchStats holds statistics about one search run.
type SearchStats struct {
	// Search statistics
	Nodes      int64         // Number of choice points explored
	Backtracks int64         // Number of backtracks performed
	Solutions  int64         // Number of improving (or enumerated) solutions
	Restarts   int64         // Number of Luby restarts
	SearchTime time.Duration // Time spent in search
	MaxDepth   int           // Maximum trail depth reached

	// Hybrid best-first statistics
	RecomputationNodes int64 // Choice points replayed to reach open nodes
	HBFSCalls          int64 // Hybrid searches started on a cluster with variables
	HBFSNew            int64 // of which started on a fresh open list
	HBFSContinue       int64 // of which resumed a cached open list
	PeakOpenNodes      int   // Largest open list seen
	PeakChoicePoints   int   // Largest choice-point log seen

	// Tree decomposition statistics
	Nogoods       int   // Nogoods held by all separators at the end
	NogoodRecords int64 // Nogood cache writes
	NogoodUses    int64 // Nogoods used in advance during propagation
	SGoods        int64 // Solution counts recorded
	SGoodUses     int64 // Solution counts reused

	// Propagation statistics
	PropagationCount int64 // Number of calls to Propagate
}

// SearchMonitor collects statistics while a solver runs. It may be read
// from another goroutine while the search is in progress.
type SearchMonitor struct {
	mu        sync.Mutex
	stats     *SearchStats
	startTime time.Time
}

// NewSearchMonitor creates a new monitor and starts its clock.
func NewSearchMonitor() *SearchMonitor {
	return &SearchMonitor{
		stats:     &SearchStats{},
		startTime: time.Now(),
	}
}

// StartSearch restarts the clock
func (m *SearchMonitor) StartSearch() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startTime = time.Now()
}

// GetStats returns a copy of the current statistics
func (m *SearchMonitor) GetStats() *SearchStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := *m.stats
	return &stats
}

// RecordNode records exploring a choice point at the given trail depth
func (m *SearchMonitor) RecordNode(depth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Nodes++
	if depth > m.stats.MaxDepth {
		m.stats.MaxDepth = depth
	}
}

// RecordBacktrack records a backtrack
func (m *SearchMonitor) RecordBacktrack() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Backtracks++
}

// RecordSolution records finding a solution
func (m *SearchMonitor) RecordSolution() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Solutions++
}

// RecordRestart records a restart
func (m *SearchMonitor) RecordRestart() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.Restarts++
}

// RecordReplay records n choice points replayed to reach an open node
func (m *SearchMonitor) RecordReplay(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.RecomputationNodes += int64(n)
}

// RecordHybrid records the start of a hybrid search on a cluster. fresh
// tells whether the open list was rebuilt.
func (m *SearchMonitor) RecordHybrid(fresh bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.HBFSCalls++
	if fresh {
		m.stats.HBFSNew++
	} else {
		m.stats.HBFSContinue++
	}
}

// RecordFrontier records the current open list and choice-point log sizes
func (m *SearchMonitor) RecordFrontier(open, cps int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if open > m.stats.PeakOpenNodes {
		m.stats.PeakOpenNodes = open
	}
	if cps > m.stats.PeakChoicePoints {
		m.stats.PeakChoicePoints = cps
	}
}

// RecordSGood records a solution count, reused or computed
func (m *SearchMonitor) RecordSGood(reused bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if reused {
		m.stats.SGoodUses++
	} else {
		m.stats.SGoods++
	}
}

// FinishSearch marks the end of the search and collects the cache
// statistics of the decomposition, if any.
func (m *SearchMonitor) FinishSearch(t *td.TreeDecomposition, propagations int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.SearchTime = time.Since(m.startTime)
	m.stats.PropagationCount = propagations
	if t == nil {
		return
	}
	m.stats.Nogoods, m.stats.NogoodRecords, m.stats.NogoodUses = 0, 0, 0
	for _, c := range t.Clusters() {
		if sep := c.Sep(); sep != nil {
			m.stats.Nogoods += sep.NumNogoods()
			m.stats.NogoodRecords += sep.NumRecords()
			m.stats.NogoodUses += sep.NumUses()
		}
	}
}

// String returns a formatted string representation of the statistics
func (s *SearchStats) String() string {
	return fmt.Sprintf(
		"Search Statistics:\n"+
			"  Search: %d nodes, %d backtracks, %d solutions, %d restarts, %v time, max depth %d\n"+
			"  HBFS: %d recomputed nodes (%.1f%%), %d calls (%d new, %d continued), peak open %d, peak cp %d\n"+
			"  Caches: %d nogoods, %d records, %d uses, %d #goods, %d #good uses\n"+
			"  Propagation: %d calls",
		s.Nodes, s.Backtracks, s.Solutions, s.Restarts, s.SearchTime, s.MaxDepth,
		s.RecomputationNodes, s.recomputationRatio(), s.HBFSCalls, s.HBFSNew, s.HBFSContinue,
		s.PeakOpenNodes, s.PeakChoicePoints,
		s.Nogoods, s.NogoodRecords, s.NogoodUses, s.SGoods, s.SGoodUses,
		s.PropagationCount,
	)
}

// recomputationRatio is the share of nodes spent replaying open nodes
func (s *SearchStats) recomputationRatio() float64 {
	if s.Nodes == 0 {
		return 0
	}
	return 100 * float64(s.RecomputationNodes) / float64(s.Nodes)
}
