package protocol

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
)

type ackPair struct{ ack, sack int }

func newTestReceiver(t *testing.T, window int, dst string) (*Receiver, *recordingChannel, *bytes.Buffer) {
	t.Helper()
	cfg := testConfig()
	cfg.WindowSize = window
	ch := &recordingChannel{size: cfg.MaxSegmentSize}
	var trace bytes.Buffer
	r, err := NewReceiver(cfg, ch, dst, NewTracer(&trace))
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	return r, ch, &trace
}

func deliver(t *testing.T, r *Receiver, b []byte) {
	t.Helper()
	if err := r.Handle(b); err != nil {
		t.Fatalf("Handle: %v", err)
	}
}

func acks(ch *recordingChannel) []ackPair {
	var out []ackPair
	for _, s := range ch.sent {
		if s.Ack && !s.Close {
			out = append(out, ackPair{s.AckNumber, s.SackNumber})
		}
	}
	return out
}

func marshaledSegments(data []byte, size int) [][]byte {
	q := NewTransmitQueue(data, size)
	out := make([][]byte, q.Len())
	for seq := 1; seq <= q.Len(); seq++ {
		s, _ := q.Segment(seq)
		out[seq-1] = s.Marshal(size)
	}
	return out
}

func TestReceiverInOrder(t *testing.T) {
	r, ch, trace := newTestReceiver(t, 8, "")
	data := testData(40, 7)
	for _, b := range marshaledSegments(data, 16) {
		deliver(t, r, b)
	}
	want := []ackPair{{1, 1}, {2, 2}, {3, 3}}
	if got := acks(ch); !equalAcks(got, want) {
		t.Errorf("acks = %v, want %v", got, want)
	}
	if !strings.HasPrefix(trace.String(), "recv\tdata\t#1\t(in order)\nsend\tack\t#1,\tsack\t#1\n") {
		t.Errorf("trace = %q", trace.String())
	}
}

// Segment 2 arrives corrupted first: nothing past 1 is acknowledged
// cumulatively until a clean copy shows up.
func TestReceiverCorruptedThenRetransmitted(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	r, ch, trace := newTestReceiver(t, 8, dst)
	data := testData(5*16, 8)
	segs := marshaledSegments(data, 16)

	deliver(t, r, segs[0])
	deliver(t, r, flipPayload(segs[1], 3))
	deliver(t, r, segs[2])
	deliver(t, r, segs[3])
	deliver(t, r, segs[4])
	deliver(t, r, segs[1])

	want := []ackPair{{1, 1}, {1, 1}, {1, 3}, {1, 4}, {1, 5}, {5, 2}}
	if got := acks(ch); !equalAcks(got, want) {
		t.Errorf("acks = %v, want %v", got, want)
	}
	if !strings.Contains(trace.String(), "drop\tdata\t#2\t(corrupted)\n") {
		t.Errorf("corruption not traced:\n%s", trace.String())
	}

	deliver(t, r, NewCloseSegment(6).Marshal(16))
	if !r.Finished {
		t.Fatalf("receiver not finished after close")
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output differs from input")
	}
	if r.FinalDigest != Digest(data) {
		t.Errorf("final digest = %s, want %s", r.FinalDigest, Digest(data))
	}
}

func TestReceiverFlushesFullWindow(t *testing.T) {
	r, ch, trace := newTestReceiver(t, 4, "")
	data := testData(12*16, 9)
	segs := marshaledSegments(data, 16)

	for _, b := range segs[:4] {
		deliver(t, r, b)
	}
	if r.Window().Generation != 1 {
		t.Fatalf("generation = %d after a full window", r.Window().Generation)
	}
	if !bytes.Equal(r.Output(), data[:4*16]) {
		t.Errorf("first generation not committed")
	}
	wantLine := "flush\nsha256\t64\t" + Digest(data[:64]) + "\n"
	if !strings.Contains(trace.String(), wantLine) {
		t.Errorf("flush not traced:\n%s", trace.String())
	}

	deliver(t, r, segs[5]) // seq 6, inside generation 1
	deliver(t, r, segs[8]) // seq 9, beyond it
	deliver(t, r, segs[1]) // seq 2, already committed

	want := []ackPair{{1, 1}, {2, 2}, {3, 3}, {4, 4}, {4, 6}, {4, 4}, {4, 2}}
	if got := acks(ch); !equalAcks(got, want) {
		t.Errorf("acks = %v, want %v", got, want)
	}
	if !strings.Contains(trace.String(), "drop\tdata\t#9\t(buffer overflow)\n") {
		t.Errorf("overflow not traced:\n%s", trace.String())
	}
	if _, ok := r.Window().Get(6); !ok {
		t.Errorf("seq 6 not buffered")
	}
	if r.Window().Occupied() != 1 {
		t.Errorf("stale segment stored: occupied = %d", r.Window().Occupied())
	}
}

func TestReceiverMalformedDatagram(t *testing.T) {
	r, ch, trace := newTestReceiver(t, 4, "")
	b := NewDataSegment(1, []byte("abc"), 16).Marshal(16)
	b[20] ^= 0xff // sack field, covered by the header checksum

	deliver(t, r, b)
	if got := acks(ch); !equalAcks(got, []ackPair{{0, 0}}) {
		t.Errorf("acks = %v, want [{0 0}]", got)
	}
	if trace.String() != "drop\tdata\t#1\t(corrupted)\nsend\tack\t#0,\tsack\t#0\n" {
		t.Errorf("trace = %q", trace.String())
	}
	if r.Window().Expected() != 1 {
		t.Errorf("malformed datagram advanced the window")
	}
}

func TestReceiverIgnoresAcks(t *testing.T) {
	r, ch, _ := newTestReceiver(t, 4, "")
	deliver(t, r, NewAckSegment(3, 3).Marshal(16))
	if len(ch.sent) != 0 {
		t.Errorf("receiver answered an ack: %v", ch.sent)
	}
}

func TestReceiverCloseCommitsBufferedPrefix(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	r, ch, trace := newTestReceiver(t, 8, dst)
	data := testData(3*16+5, 10)
	for _, b := range marshaledSegments(data, 16) {
		deliver(t, r, b)
	}
	deliver(t, r, NewCloseSegment(5).Marshal(16))

	last := ch.last()
	if !last.Close || !last.Ack || last.SeqNumber != 5 {
		t.Errorf("close reply = %+v", last)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output is %d bytes, want %d", len(got), len(data))
	}
	if !strings.HasSuffix(trace.String(), "finsha\t"+Digest(data)+"\n") {
		t.Errorf("trace does not end with the final digest:\n%s", trace.String())
	}
	if !strings.Contains(trace.String(), "recv\tfin\nsend\tfinack\nflush\n") {
		t.Errorf("close sequence not traced:\n%s", trace.String())
	}
}

func TestReceiverOutputLimit(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 2
	cfg.MaxFileSize = 20
	r, err := NewReceiver(cfg, &recordingChannel{size: cfg.MaxSegmentSize}, "", nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	segs := marshaledSegments(testData(32, 11), 16)
	if err := r.Handle(segs[0]); err != nil {
		t.Fatalf("Handle(1): %v", err)
	}
	err = r.Handle(segs[1])
	if errors.Cause(err) != ErrOutputFull {
		t.Errorf("err = %v, want ErrOutputFull", err)
	}
}

func equalAcks(a, b []ackPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReceiverIgnoresEarlyClose(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "out")
	r, ch, trace := newTestReceiver(t, 8, dst)
	data := testData(3*16, 12)
	segs := marshaledSegments(data, 16)

	deliver(t, r, segs[0])
	deliver(t, r, segs[2])
	deliver(t, r, NewCloseSegment(4).Marshal(16))
	if r.Finished {
		t.Fatalf("close accepted with seq 2 missing")
	}
	if last := ch.last(); last.Close || last.AckNumber != 1 || last.SackNumber != 1 {
		t.Errorf("reply to early close = %+v, want pure ack #1", last)
	}
	if strings.Contains(trace.String(), "recv\tfin") {
		t.Errorf("early close traced as accepted:\n%s", trace.String())
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("output written before the transfer finished: %v", err)
	}

	deliver(t, r, segs[1])
	deliver(t, r, NewCloseSegment(4).Marshal(16))
	if !r.Finished {
		t.Fatalf("in-order close not accepted")
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("output is %d bytes, want %d", len(got), len(data))
	}
}
