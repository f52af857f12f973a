package broker

// Status is a Tracker's place in the pause/resume state machine (spec
// §4.3).
type Status int8

const (
	StatusPausedBusy Status = iota
	StatusPausedCaughtup
	StatusPausedInflightFull
	StatusReady
)

func (s Status) String() string {
	switch s {
	case StatusReady:
		return "Ready"
	case StatusPausedCaughtup:
		return "Paused(Caughtup)"
	case StatusPausedInflightFull:
		return "Paused(InflightFull)"
	case StatusPausedBusy:
		return "Paused(Busy)"
	default:
		return "Unknown"
	}
}

// ReadyEvent is the stimulus driving a Tracker's pause/resume transitions
// (spec §4.3 table).
type ReadyEvent int8

const (
	EventInit ReadyEvent = iota
	EventReadyExplicit
	EventNewFilter
	EventFreshData
	EventIncomingAck
)

// PauseReason is carried by StatusPaused*.
type PauseReason int8

const (
	ReasonBusy PauseReason = iota
	ReasonCaughtup
	ReasonInflightFull
)

// Tracker is one connection's pending pull-work queue plus its scheduling
// status (spec §3, §4.3). Initial status is Paused(Busy).
type Tracker struct {
	ClientID     string
	dataRequests []DataRequest
	status       Status
}

func newTracker(clientID string) *Tracker {
	return &Tracker{ClientID: clientID, status: StatusPausedBusy}
}

// Status reports the tracker's current state.
func (t *Tracker) Status() Status { return t.status }

// PushBack enqueues a DataRequest at the tail of the tracker's FIFO.
func (t *Tracker) PushBack(r DataRequest) {
	t.dataRequests = append(t.dataRequests, r)
}

// Len reports the number of pending data requests.
func (t *Tracker) Len() int { return len(t.dataRequests) }

// HasFilter reports whether the tracker already has a pending DataRequest
// for filterIdx (spec §8 property 2: tracker filter-uniqueness).
func (t *Tracker) HasFilter(filterIdx FilterIdx) bool {
	for _, r := range t.dataRequests {
		if r.FilterIdx == filterIdx {
			return true
		}
	}
	return false
}

// RemoveFilter drops any pending DataRequest for filterIdx (spec §4.6
// Unsubscribe: "untrack the filter in the scheduler").
func (t *Tracker) RemoveFilter(filterIdx FilterIdx) {
	kept := t.dataRequests[:0]
	for _, r := range t.dataRequests {
		if r.FilterIdx != filterIdx {
			kept = append(kept, r)
		}
	}
	t.dataRequests = kept
}

// takeAll moves out the tracker's entire pending FIFO, leaving it empty,
// matching poll()'s "moves out that tracker's data_requests queue" step
// (spec §4.3).
func (t *Tracker) takeAll() []DataRequest {
	out := t.dataRequests
	t.dataRequests = nil
	return out
}

// transition applies event to the tracker's state machine per the table in
// spec §4.3. Init and ReadyExplicit move a tracker to Ready from any Paused
// state, not just Paused(Busy): the table marks the other originating
// states "(assert-fail)", but that assert is a debug-only sanity check in
// the reference implementation, not a behavior gate, and a reconnecting
// persistent session's restored tracker is routinely Paused(Caughtup) or
// Paused(InflightFull) rather than freshly Paused(Busy) (spec §8 property
// 6, session resumption). NewFilter/FreshData/IncomingAck remain gated to
// their one originating state, matching the table exactly.
func (t *Tracker) transition(event ReadyEvent) {
	if t.status == StatusReady {
		return
	}
	switch event {
	case EventInit, EventReadyExplicit:
		t.status = StatusReady
	case EventNewFilter, EventFreshData:
		if t.status == StatusPausedCaughtup {
			t.status = StatusReady
		}
	case EventIncomingAck:
		if t.status == StatusPausedInflightFull {
			t.status = StatusReady
		}
	}
}

// pause transitions the tracker out of Ready into Paused(reason). Callers
// must have just polled this connection off the ready queue tail (spec
// §4.3 "asserts the connection is at the tail of the ready queue").
func (t *Tracker) pause(reason PauseReason) {
	switch reason {
	case ReasonBusy:
		t.status = StatusPausedBusy
	case ReasonCaughtup:
		t.status = StatusPausedCaughtup
	case ReasonInflightFull:
		t.status = StatusPausedInflightFull
	}
}

// Scheduler owns the dense slab of per-connection Trackers and the global
// FIFO ready queue (spec §2, §4.3).
type Scheduler struct {
	Trackers Slab[*Tracker]

	readyQueue []ConnectionId
	inQueue    map[ConnectionId]bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{inQueue: make(map[ConnectionId]bool)}
}

// enqueueReady appends connID to the ready queue tail, enforcing the
// at-most-once invariant (spec §8 property 1).
func (s *Scheduler) enqueueReady(connID ConnectionId) {
	if s.inQueue[connID] {
		return
	}
	s.readyQueue = append(s.readyQueue, connID)
	s.inQueue[connID] = true
}

// Reschedule applies event to connID's tracker and, if that transitioned
// it into Ready, enqueues it (spec §4.3, §4.4 Ready event handling).
func (s *Scheduler) Reschedule(connID ConnectionId, event ReadyEvent) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	before := tr.status
	tr.transition(event)
	if tr.status == StatusReady && before != StatusReady {
		s.enqueueReady(connID)
	}
}

// ReadyLen reports the number of entries in the ready queue, including
// possibly-stale ids for connections that have since disconnected (spec
// §5 resource policy: filtered at poll time, not scrubbed eagerly).
func (s *Scheduler) ReadyLen() int { return len(s.readyQueue) }

// Poll removes the front of the ready queue, moves out that tracker's
// pending data requests, and speculatively re-enqueues the same
// connection id at the tail (spec §4.3 poll()). It returns ok=false if the
// queue was empty or the front id is stale (its tracker no longer exists),
// in which case the caller should try again.
func (s *Scheduler) Poll() (connID ConnectionId, requests []DataRequest, ok bool) {
	if len(s.readyQueue) == 0 {
		return 0, nil, false
	}
	connID = s.readyQueue[0]
	s.readyQueue = s.readyQueue[1:]
	delete(s.inQueue, connID)

	tr, live := s.Trackers.Get(connID)
	if !live {
		return connID, nil, false
	}

	requests = tr.takeAll()
	s.enqueueReady(connID)
	return connID, requests, true
}

// Pause transitions connID's tracker to Paused(reason). Per spec §4.3 this
// must only be called immediately after that connection was polled (it is
// presently at the ready-queue tail from the speculative re-enqueue); it
// pops that speculative entry back off.
func (s *Scheduler) Pause(connID ConnectionId, reason PauseReason) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	tr.pause(reason)
	s.popTail(connID)
}

// popTail removes connID's speculative tail entry from the ready queue, if
// it is there (spec §4.3 pause()).
func (s *Scheduler) popTail(connID ConnectionId) {
	n := len(s.readyQueue)
	if n == 0 || s.readyQueue[n-1] != connID {
		return
	}
	s.readyQueue = s.readyQueue[:n-1]
	delete(s.inQueue, connID)
}

// PushBack re-enqueues a DataRequest onto connID's tracker FIFO tail,
// without affecting ready/paused status. consume() does not call it: it
// hands its leftover requests back in one batch through Trackv.
func (s *Scheduler) PushBack(connID ConnectionId, r DataRequest) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	tr.PushBack(r)
}

// Add inserts tracker into the slab, returning the id it was assigned.
// Callers must insert into every other per-connection slab with the same
// call sequence so all five slabs hand back the same id (spec §3, §4.5).
func (s *Scheduler) Add(tracker *Tracker) ConnectionId {
	return s.Trackers.Insert(tracker)
}

// Remove evicts connID's tracker, returning it so its pending data
// requests can be folded back in on a persistent-session disconnect (spec
// §4.7).
func (s *Scheduler) Remove(connID ConnectionId) *Tracker {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return newTracker("")
	}
	s.Trackers.Remove(connID)
	s.popTail(connID)
	return tr
}

// Track registers a new DataRequest on connID's tracker (spec §4.6
// subscribe, §4.4 fresh-data notification replay).
func (s *Scheduler) Track(connID ConnectionId, r DataRequest) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	tr.PushBack(r)
}

// Trackv folds a batch of leftover DataRequests back onto connID's
// tracker tail, in order (spec §4.3 consume()'s final "add requests back
// to the tracker" step).
func (s *Scheduler) Trackv(connID ConnectionId, requests []DataRequest) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	tr.dataRequests = append(tr.dataRequests, requests...)
}

// Untrack drops any pending DataRequest for filter from connID's tracker
// (spec §4.6 unsubscribe).
func (s *Scheduler) Untrack(connID ConnectionId, filterIdx FilterIdx) {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return
	}
	tr.RemoveFilter(filterIdx)
}

// CheckTrackerDuplicates reports whether connID's tracker has no two
// pending DataRequests for the same filter (spec §8 property 2). Intended
// for debug-assert-style use at call sites that just mutated the tracker.
func (s *Scheduler) CheckTrackerDuplicates(connID ConnectionId) bool {
	tr, ok := s.Trackers.Get(connID)
	if !ok {
		return true
	}
	seen := make(map[FilterIdx]struct{}, len(tr.dataRequests))
	for _, r := range tr.dataRequests {
		if _, dup := seen[r.FilterIdx]; dup {
			return false
		}
		seen[r.FilterIdx] = struct{}{}
	}
	return true
}

// CheckReadyQueueDuplicates reports whether the ready queue holds each
// connection id at most once (spec §8 property 1).
func (s *Scheduler) CheckReadyQueueDuplicates() bool {
	seen := make(map[ConnectionId]struct{}, len(s.readyQueue))
	for _, id := range s.readyQueue {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// ReadyQueueSnapshot returns a copy of the current ready queue, for
// metrics queries (spec §6.1 Metrics ReadyQueue).
func (s *Scheduler) ReadyQueueSnapshot() []ConnectionId {
	out := make([]ConnectionId, len(s.readyQueue))
	copy(out, s.readyQueue)
	return out
}
