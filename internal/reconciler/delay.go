package reconciler

import (
	"container/heap"
	"fmt"
	"time"
)

type delayedEvent struct {
	ev      Event
	applyAt time.Time
	seq     uint64
}

func (e delayedEvent) String() string {
	return fmt.Sprintf("{event=%s, apply_at=%s}", e.ev, e.applyAt.Format(time.DateTime))
}

// delayQueue is a min-heap on apply time; equal times keep insertion order.
type delayQueue []delayedEvent

func (q delayQueue) Len() int { return len(q) }

func (q delayQueue) Less(i, j int) bool {
	if q[i].applyAt.Equal(q[j].applyAt) {
		return q[i].seq < q[j].seq
	}
	return q[i].applyAt.Before(q[j].applyAt)
}

func (q delayQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *delayQueue) Push(x any) { *q = append(*q, x.(delayedEvent)) }

func (q *delayQueue) Pop() any {
	old := *q
	last := old[len(old)-1]
	*q = old[:len(old)-1]
	return last
}

func (q delayQueue) peek() (delayedEvent, bool) {
	if len(q) == 0 {
		return delayedEvent{}, false
	}
	return q[0], true
}

func (r *Reconciler) delayEvent(event Event, delayDuration time.Duration) {
	r.delaySeq++
	ev := delayedEvent{
		ev:      event,
		applyAt: time.Now().Add(delayDuration),
		seq:     r.delaySeq,
	}
	r.log.Info().Msgf("delayed event: %v", ev)

	heap.Push(&r.delayed, ev)
	if front, _ := r.delayed.peek(); front.seq == ev.seq {
		r.delayEventTimer.Reset(delayDuration)
	}
}

// handleDelayedEvent applies every due event and rearms the timer for the
// next one.
func (r *Reconciler) handleDelayedEvent() {
	for {
		front, ok := r.delayed.peek()
		if !ok {
			return
		}
		if wait := time.Until(front.applyAt); wait > 0 {
			r.delayEventTimer.Reset(wait)
			return
		}
		heap.Pop(&r.delayed)
		r.log.Info().Msgf("got delayed event: %v", front.ev)
		r.processIncomingEvent(front.ev, false)
	}
}
