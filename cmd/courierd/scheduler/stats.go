package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/context"

	"github.com/dustin/go-humanize"
	"github.com/rcrowley/go-metrics"

	"github.com/intel-hpdd/logging/audit"
	"github.com/intel-hpdd/logging/debug"
)

// CycleStats is a synchronized container for ActivityStats instances
type CycleStats struct {
	sync.Mutex
	stats map[string]*ActivityStats
}

// ActivityStats is a per-activity container of submission statistics
type ActivityStats struct {
	changes   uint64
	queued    metrics.Counter
	submitted metrics.Timer
}

// NewCycleStats initializes a new CycleStats container
func NewCycleStats() *CycleStats {
	return &CycleStats{
		stats: make(map[string]*ActivityStats),
	}
}

func (cs *CycleStats) update() {
	for _, k := range cs.Activities() {
		activity := cs.GetIndex(k)
		changes := atomic.LoadUint64(&activity.changes)
		if changes != 0 {
			atomic.AddUint64(&activity.changes, -changes)
			audit.Logf("activity:%s %s", k, activity)
		}
	}
}

func (cs *CycleStats) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			debug.Print("Shutting down stats collector")
			return
		case <-time.After(10 * time.Second):
			cs.update()
		}
	}
}

// Start creates a new goroutine for collecting submission stats
func (cs *CycleStats) Start(ctx context.Context) {
	go cs.run(ctx)
	debug.Print("Stats collector started in background")
}

// Fetched increments the queue counter for requests entering the
// submission pipeline
func (cs *CycleStats) Fetched(activity string, n int) {
	s := cs.GetIndex(activity)
	s.queued.Inc(int64(n))
	atomic.AddUint64(&s.changes, 1)
}

// Submitted updates stats for requests handed to the transfer tool
func (cs *CycleStats) Submitted(activity string, start time.Time, n int) {
	s := cs.GetIndex(activity)
	s.queued.Dec(int64(n))
	for i := 0; i < n; i++ {
		s.submitted.UpdateSince(start)
	}
	atomic.AddUint64(&s.changes, 1)
}

// Dropped decrements the queue counter for requests leaving the
// pipeline without a submission
func (cs *CycleStats) Dropped(activity string, n int) {
	s := cs.GetIndex(activity)
	s.queued.Dec(int64(n))
	atomic.AddUint64(&s.changes, 1)
}

// GetIndex returns the *ActivityStats corresponding to the supplied
// activity
func (cs *CycleStats) GetIndex(activity string) *ActivityStats {
	cs.Lock()
	defer cs.Unlock()
	s, ok := cs.stats[activity]
	if !ok {
		s = &ActivityStats{
			queued:    metrics.NewCounter(),
			submitted: metrics.NewTimer(),
		}
		metrics.Register(fmt.Sprintf("%sSubmitted", activity), s.submitted)
		metrics.Register(fmt.Sprintf("%sQueueLength", activity), s.queued)
		cs.stats[activity] = s
	}
	return s
}

// Activities returns a slice of activity names corresponding to
// instrumented submission flows
func (cs *CycleStats) Activities() (v []string) {
	cs.Lock()
	defer cs.Unlock()
	for k := range cs.stats {
		v = append(v, k)
	}
	return
}

func (s *ActivityStats) String() string {
	ps := s.submitted.Percentiles([]float64{0.5, .75, 0.95, 0.99, 0.999})
	return fmt.Sprintf("total:%v queue:%v %v/%v/%v min:%v max:%v mean:%v median:%v 75%%:%v 95%%:%v 99%%:%v 99.9%%:%v",
		humanize.Comma(s.submitted.Count()),
		humanize.Comma(s.queued.Count()),
		humanize.Comma(int64(s.submitted.Rate1())),
		humanize.Comma(int64(s.submitted.Rate5())),
		humanize.Comma(int64(s.submitted.Rate15())),
		time.Duration(s.submitted.Min()),
		time.Duration(s.submitted.Max()),
		time.Duration(int64(s.submitted.Mean())),
		time.Duration(int64(ps[0])),
		time.Duration(int64(ps[1])),
		time.Duration(int64(ps[2])),
		time.Duration(int64(ps[3])),
		time.Duration(int64(ps[4])))
}
