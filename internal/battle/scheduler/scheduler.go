// Package scheduler drives simulated time forward: a min-heap of events
// keyed on (time_ms, event-kind tier, owner, instance_id bytes), giving the
// engine its only source of event ordering. Timeline seq values are not
// assigned here; timeline.Append assigns them.
package scheduler

import (
	"bytes"
	"container/heap"

	"github.com/google/uuid"
)

// Kind is one of the scheduler's internal event kinds. Only a subset is
// surfaced to the Timeline; the rest (BuffTick, DeathCheck, markers) drive
// engine-internal bookkeeping.
type Kind int

// Tier fixes the deterministic secondary ordering for events sharing a
// time_ms: lower tiers run first. BattleStartMarker and BattleEndMarker are
// engine bookkeeping and sort outside the gameplay tiers.
const (
	KindBattleStartMarker Kind = iota
	KindDeathCheck
	KindAutoCastEnd
	KindAutoCastStart
	KindBuffExpire
	KindBuffTick
	KindAutoAttackTick
	KindBattleEndMarker
)

// Event is one entry in the scheduler's heap.
type Event struct {
	TimeMS     int64
	Tier       Kind
	Owner      string
	InstanceID uuid.UUID
	// Seq disambiguates events that are identical on every ordering key
	// (e.g. two DeathChecks scheduled for the same instance at the same
	// time); it reflects insertion order, not the timeline seq.
	Seq uint64

	// CauseSeq is the timeline seq of the entry that caused this event to
	// be scheduled (e.g. the Attack that made a DeathCheck necessary), or 0
	// if the event has no such parent and should cause-link to a root.
	CauseSeq uint64
	HasCause bool

	index int
}

// pq implements container/heap.Interface ordering by (TimeMS, Tier, Owner,
// InstanceID bytes, Seq) ascending -- the scheduler's full, stable tiebreak.
type pq []*Event

func (q pq) Len() int { return len(q) }

func (q pq) Less(i, j int) bool {
	a, b := q[i], q[j]
	if a.TimeMS != b.TimeMS {
		return a.TimeMS < b.TimeMS
	}
	if a.Tier != b.Tier {
		return a.Tier < b.Tier
	}
	if a.Owner != b.Owner {
		return a.Owner < b.Owner
	}
	if c := bytes.Compare(a.InstanceID[:], b.InstanceID[:]); c != 0 {
		return c < 0
	}
	return a.Seq < b.Seq
}

func (q pq) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pq) Push(x any) {
	e := x.(*Event)
	e.index = len(*q)
	*q = append(*q, e)
}

func (q *pq) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*q = old[:n-1]
	return e
}

// Scheduler owns the event heap and an insertion-order counter for Event.Seq.
type Scheduler struct {
	heap    pq
	nextSeq uint64
}

func New() *Scheduler {
	s := &Scheduler{}
	heap.Init(&s.heap)
	return s
}

// Schedule enqueues an event at timeMS for owner/instanceID with the given
// tier, with no causal parent.
func (s *Scheduler) Schedule(timeMS int64, tier Kind, owner string, instanceID uuid.UUID) {
	s.schedule(timeMS, tier, owner, instanceID, 0, false)
}

// ScheduleWithCause enqueues an event the same way as Schedule, but records
// causeSeq as the timeline seq of the entry that made this event necessary
// (e.g. the Attack entry behind a DeathCheck), so the handler can cause-link
// back to it instead of a disconnected root.
func (s *Scheduler) ScheduleWithCause(timeMS int64, tier Kind, owner string, instanceID uuid.UUID, causeSeq uint64) {
	s.schedule(timeMS, tier, owner, instanceID, causeSeq, true)
}

func (s *Scheduler) schedule(timeMS int64, tier Kind, owner string, instanceID uuid.UUID, causeSeq uint64, hasCause bool) {
	e := &Event{
		TimeMS:     timeMS,
		Tier:       tier,
		Owner:      owner,
		InstanceID: instanceID,
		Seq:        s.nextSeq,
		CauseSeq:   causeSeq,
		HasCause:   hasCause,
	}
	s.nextSeq++
	heap.Push(&s.heap, e)
}

// Next pops and returns the earliest event, or ok=false if the heap is empty.
func (s *Scheduler) Next() (Event, bool) {
	if s.heap.Len() == 0 {
		return Event{}, false
	}
	e := heap.Pop(&s.heap).(*Event)
	return *e, true
}

func (s *Scheduler) Len() int {
	return s.heap.Len()
}
