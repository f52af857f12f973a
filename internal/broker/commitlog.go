package broker

import (
	"fmt"
	"sync"
)

// Position reports whether a read reached the end of the log (spec §6.3,
// §4.1 native_readv contract).
type Position struct {
	Start, End Offset
	Done       bool // true == Done{start,end}; false == Next{start,end}
}

// CommitLog is the external segmented-log byte storage primitive's
// contract (spec §6.3). The router and DataLog depend only on this
// interface; disk-backed implementations are an external collaborator and
// out of scope (spec §1). inMemorySegmentedLog below is the in-process
// implementation used by the broker and by tests.
type CommitLog interface {
	Append(p Publish) Offset
	Readv(cursor Offset, maxLen int, out *[]Publish) Position
	NextOffset() Offset
	Last() (Publish, bool)
	HeadAndTail() (head, tail Offset)
}

// inMemorySegmentedLog is an append-only, in-memory stand-in for the
// external segmented commit log primitive (spec §6.3): entries rotate into
// a new logical segment every maxSegmentSize appends, and at most
// maxSegmentCount segments are retained in memory, matching the
// "segment rotation happens inside the log primitive" resource policy
// (spec §5). Readv is a linear segment/position scan; (segment, position)
// is already a direct slice index, so there is no ordered-seek structure to
// maintain on top of it.
type inMemorySegmentedLog struct {
	mu sync.Mutex

	codec Codec

	maxSegmentSize  uint64
	maxSegmentCount int

	segments   [][]Publish // segments[i] holds in-order publishes for segment id i
	firstSegID int64       // lowest segment id still retained
	nextSeg    int64       // segment id the next append may land in
}

// newInMemorySegmentedLog constructs a fresh log (spec §6.3 new()).
func newInMemorySegmentedLog(maxSegmentSize uint64, maxSegmentCount int, codec Codec) *inMemorySegmentedLog {
	if codec == nil {
		codec = CodecNone{}
	}
	return &inMemorySegmentedLog{
		codec:           codec,
		maxSegmentSize:  maxSegmentSize,
		maxSegmentCount: maxSegmentCount,
		segments:        [][]Publish{{}},
		firstSegID:      0,
		nextSeg:         0,
	}
}

// Append appends p, returning the new tail cursor (spec §6.3 append()).
func (l *inMemorySegmentedLog) Append(p Publish) Offset {
	l.mu.Lock()
	defer l.mu.Unlock()

	if encoded, err := l.codec.Encode(p.Payload); err == nil {
		p.Payload = encoded
	}

	idx := l.nextSeg - l.firstSegID
	seg := l.segments[idx]
	seg = append(seg, p)
	l.segments[idx] = seg

	if uint64(len(seg)) >= l.maxSegmentSize {
		l.rotate()
	}

	return Offset{Segment: l.nextSeg, Position: int64(len(l.segments[l.nextSeg-l.firstSegID]))}
}

// rotate starts a new segment, evicting the oldest retained segment if
// maxSegmentCount is exceeded. Called with mu held.
func (l *inMemorySegmentedLog) rotate() {
	l.nextSeg++
	l.segments = append(l.segments, []Publish{})
	if len(l.segments) > l.maxSegmentCount {
		l.segments = l.segments[1:]
		l.firstSegID++
	}
}

// Readv vectored-reads starting at cursor (spec §6.3 readv(), §4.1
// native_readv). Position.Start is where the read actually began: cursor
// itself, unless cursor points into a segment that has been rotated away,
// in which case the read starts at the oldest retained segment and Start
// reports that. Callers (forward_device_data via DataLog.NativeReadv) log
// the cursor-jump diagnostic when Start differs from cursor (spec §4.1,
// §4.8).
func (l *inMemorySegmentedLog) Readv(cursor Offset, maxLen int, out *[]Publish) Position {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := cursor
	start := cursor
	read := 0
	for read < maxLen {
		segIdx := cur.Segment - l.firstSegID
		if segIdx < 0 {
			// Requested a segment we've rotated away; jump forward to
			// the oldest we still have.
			cur = Offset{Segment: l.firstSegID, Position: 0}
			start = cur
			segIdx = 0
		}
		if segIdx >= int64(len(l.segments)) {
			return Position{Start: start, End: cur, Done: true}
		}
		seg := l.segments[segIdx]
		if cur.Position >= int64(len(seg)) {
			if segIdx == int64(len(l.segments))-1 {
				return Position{Start: start, End: cur, Done: true}
			}
			cur = Offset{Segment: cur.Segment + 1, Position: 0}
			continue
		}
		p := seg[cur.Position]
		if decoded, err := l.codec.Decode(p.Payload); err == nil {
			p.Payload = decoded
		}
		*out = append(*out, p)
		cur = Offset{Segment: cur.Segment, Position: cur.Position + 1}
		read++
	}
	return Position{Start: start, End: cur, Done: false}
}

// NextOffset returns the current tail cursor (spec §6.3 next_offset()).
func (l *inMemorySegmentedLog) NextOffset() Offset {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := l.nextSeg - l.firstSegID
	return Offset{Segment: l.nextSeg, Position: int64(len(l.segments[idx]))}
}

// Last returns the most recently appended publish, for shadow queries
// (spec §6.3 last()).
func (l *inMemorySegmentedLog) Last() (Publish, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.segments) - 1; i >= 0; i-- {
		seg := l.segments[i]
		if len(seg) > 0 {
			p := seg[len(seg)-1]
			if decoded, err := l.codec.Decode(p.Payload); err == nil {
				p.Payload = decoded
			}
			return p, true
		}
	}
	return Publish{}, false
}

// HeadAndTail reports the oldest retained and current tail cursors, for
// metering (spec §6.3 head_and_tail()).
func (l *inMemorySegmentedLog) HeadAndTail() (head, tail Offset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	head = Offset{Segment: l.firstSegID, Position: 0}
	idx := l.nextSeg - l.firstSegID
	tail = Offset{Segment: l.nextSeg, Position: int64(len(l.segments[idx]))}
	return head, tail
}

func (l *inMemorySegmentedLog) String() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return fmt.Sprintf("log{segments=%d firstSeg=%d nextSeg=%d}", len(l.segments), l.firstSegID, l.nextSeg)
}
