package broker

import "testing"

func TestInMemorySegmentedLogAppendReadv(t *testing.T) {
	l := newInMemorySegmentedLog(4, 10, CodecNone{})

	for i := 0; i < 3; i++ {
		l.Append(Publish{Topic: []byte("a/b"), Payload: []byte{byte(i)}})
	}

	var out []Publish
	pos := l.Readv(ZeroOffset, 10, &out)
	if len(out) != 3 {
		t.Fatalf("Readv() returned %d publishes, want 3", len(out))
	}
	if !pos.Done {
		t.Error("Readv() Done = false, want true (read exhausted the log)")
	}
	for i, p := range out {
		if p.Payload[0] != byte(i) {
			t.Errorf("out[%d].Payload = %v, want [%d]", i, p.Payload, i)
		}
	}
}

func TestInMemorySegmentedLogCursorMonotonic(t *testing.T) {
	l := newInMemorySegmentedLog(4, 10, CodecNone{})
	var prev Offset
	for i := 0; i < 10; i++ {
		off := l.Append(Publish{Payload: []byte{byte(i)}})
		if i > 0 && !prev.Less(off) {
			t.Fatalf("append %d: offset %v not greater than previous %v", i, off, prev)
		}
		prev = off
	}
}

func TestInMemorySegmentedLogRotationEvicts(t *testing.T) {
	l := newInMemorySegmentedLog(2, 2, CodecNone{})
	for i := 0; i < 12; i++ {
		l.Append(Publish{Payload: []byte{byte(i)}})
	}
	if len(l.segments) > 2 {
		t.Fatalf("segments retained = %d, want at most 2", len(l.segments))
	}
}

func TestInMemorySegmentedLogLast(t *testing.T) {
	l := newInMemorySegmentedLog(4, 10, CodecNone{})
	if _, ok := l.Last(); ok {
		t.Fatal("Last() on empty log ok = true")
	}
	l.Append(Publish{Payload: []byte("x")})
	l.Append(Publish{Payload: []byte("y")})

	last, ok := l.Last()
	if !ok || string(last.Payload) != "y" {
		t.Fatalf("Last() = (%v, %v), want (y, true)", last, ok)
	}
}

func TestInMemorySegmentedLogCodecRoundTrip(t *testing.T) {
	l := newInMemorySegmentedLog(100, 10, CodecSnappy{})
	l.Append(Publish{Payload: []byte("hello world")})

	var out []Publish
	l.Readv(ZeroOffset, 1, &out)
	if len(out) != 1 || string(out[0].Payload) != "hello world" {
		t.Fatalf("Readv() with snappy codec = %v, want [hello world]", out)
	}
}
