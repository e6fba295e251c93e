package sandbox

import (
	"runtime"
	rtmetrics "runtime/metrics"
	"sync/atomic"
	"time"
)

const heapMetric = "/memory/classes/heap/objects:bytes"

// gcConfirmInterval bounds how often a watchdog forces a collection to
// confirm an apparent breach
const gcConfirmInterval = 100 * time.Millisecond

// activity counts sandbox invocations across every runtime in the process.
// seq moves whenever an invocation starts or finishes.
var activity struct {
	active atomic.Int32
	seq    atomic.Uint64
}

// enterInvocation registers a running invocation and returns its release
func enterInvocation() func() {
	activity.active.Add(1)
	activity.seq.Add(1)
	return func() {
		activity.active.Add(-1)
		activity.seq.Add(1)
	}
}

// heapWatch charges process heap growth to one invocation. Growth is only
// attributed while no other invocation starts, runs or finishes; otherwise
// the baseline moves. A breach must survive a forced collection, so garbage
// left by other goroutines is not charged.
type heapWatch struct {
	limit    int64
	baseline uint64
	seq      uint64
	lastGC   time.Time
}

// newHeapWatch must be called after enterInvocation
func newHeapWatch(limit int64) *heapWatch {
	return &heapWatch{
		limit:    limit,
		baseline: heapBytes(),
		seq:      activity.seq.Load(),
	}
}

func (w *heapWatch) exceeded(now time.Time) bool {
	heap := heapBytes()
	if seq := activity.seq.Load(); seq != w.seq || activity.active.Load() > 1 {
		w.seq = seq
		w.baseline = heap
		return false
	}
	if !w.over(heap) || now.Sub(w.lastGC) < gcConfirmInterval {
		return false
	}

	w.lastGC = now
	runtime.GC()
	if activity.seq.Load() != w.seq {
		return false
	}
	return w.over(heapBytes())
}

func (w *heapWatch) over(heap uint64) bool {
	return int64(heap)-int64(w.baseline) > w.limit
}

func heapBytes() uint64 {
	sample := []rtmetrics.Sample{{Name: heapMetric}}
	rtmetrics.Read(sample)
	if sample[0].Value.Kind() != rtmetrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}
