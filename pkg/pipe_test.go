package protocol

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		MaxSegmentSize: 16,
		WindowSize:     8,
		Timeout:        20 * time.Millisecond,
		MaxFileSize:    1 << 20,
	}
}

func testData(n int, seed int64) []byte {
	rng := rand.New(rand.NewSource(seed))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

// recordingChannel decodes and keeps everything sent through it.
type recordingChannel struct {
	size int
	sent []*Segment
}

func (c *recordingChannel) Send(b []byte) error {
	seg, err := Unmarshal(b, c.size)
	if err != nil {
		return err
	}
	c.sent = append(c.sent, seg)
	return nil
}

func (c *recordingChannel) Receive(timeout time.Duration) ([]byte, error) {
	return nil, ErrTimeout
}

func (c *recordingChannel) last() *Segment {
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *recordingChannel) seqs() []int {
	var seqs []int
	for _, seg := range c.sent {
		seqs = append(seqs, seg.SeqNumber)
	}
	return seqs
}

// fault decides what becomes of one outgoing datagram: nothing (dropped),
// one or more copies, possibly altered.
type fault func(seg *Segment, b []byte) [][]byte

type pipeEnd struct {
	in    chan []byte
	peer  *pipeEnd
	fault fault
	size  int
}

// newPipe connects a sender end and a receiver end. toReceiver applies to
// everything the sender end sends, toSender to the other direction. Close
// segments and close acks are never touched.
func newPipe(size int, toReceiver, toSender fault) (*pipeEnd, *pipeEnd) {
	s := &pipeEnd{in: make(chan []byte, 4096), size: size, fault: toReceiver}
	r := &pipeEnd{in: make(chan []byte, 4096), size: size, fault: toSender}
	s.peer, r.peer = r, s
	return s, r
}

func (p *pipeEnd) Send(b []byte) error {
	out := [][]byte{append([]byte(nil), b...)}
	if p.fault != nil {
		if seg, err := Unmarshal(b, p.size); err == nil && !seg.Close {
			out = p.fault(seg, out[0])
		}
	}
	for _, d := range out {
		select {
		case p.peer.in <- d:
		default:
			// queue full, the datagram is lost
		}
	}
	return nil
}

func (p *pipeEnd) Receive(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		return <-p.in, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-p.in:
		return b, nil
	case <-timer.C:
		return nil, ErrTimeout
	}
}

func flipPayload(b []byte, i int) []byte {
	out := append([]byte(nil), b...)
	out[SegmentHeaderLen+i%(len(out)-SegmentHeaderLen)] ^= 0x5a
	return out
}

// lossy drops, corrupts, duplicates and reorders datagrams at random.
type lossy struct {
	rng     *rand.Rand
	loss    float64
	corrupt float64
	dup     float64
	reorder float64
	held    [][]byte
}

func newLossy(seed int64, loss, corrupt, dup, reorder float64) *lossy {
	return &lossy{rng: rand.New(rand.NewSource(seed)), loss: loss, corrupt: corrupt, dup: dup, reorder: reorder}
}

func (l *lossy) apply(seg *Segment, b []byte) [][]byte {
	var out [][]byte
	if l.rng.Float64() >= l.loss {
		if seg.IsData() && l.rng.Float64() < l.corrupt {
			b = flipPayload(b, l.rng.Intn(1<<16))
		}
		out = append(out, b)
		if l.rng.Float64() < l.dup {
			out = append(out, b)
		}
	}
	if len(out) > 0 && l.rng.Float64() < l.reorder {
		l.held = append(l.held, out...)
		return nil
	}
	out = append(out, l.held...)
	l.held = nil
	return out
}

// runTransfer drives a sender and a receiver through the real event loops.
func runTransfer(t *testing.T, cfg Config, data []byte, toReceiver, toSender fault) (*Sender, *Receiver, []byte) {
	t.Helper()
	senderEnd, receiverEnd := newPipe(cfg.MaxSegmentSize, toReceiver, toSender)
	dst := filepath.Join(t.TempDir(), "received")

	receiver, err := NewReceiver(cfg, receiverEnd, dst, nil)
	if err != nil {
		t.Fatalf("NewReceiver: %v", err)
	}
	sender, err := NewSender(cfg, senderEnd, data, nil)
	if err != nil {
		t.Fatalf("NewSender: %v", err)
	}

	recvErr := make(chan error, 1)
	sendErr := make(chan error, 1)
	go func() { recvErr <- receiver.Run() }()
	go func() { sendErr <- sender.Run() }()

	deadline := time.After(30 * time.Second)
	for i := 0; i < 2; i++ {
		select {
		case err := <-recvErr:
			if err != nil {
				t.Fatalf("receiver: %v", err)
			}
		case err := <-sendErr:
			if err != nil {
				t.Fatalf("sender: %v", err)
			}
		case <-deadline:
			t.Fatalf("transfer did not finish")
		}
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("reading output: %v", err)
	}
	return sender, receiver, got
}

// ackingChannel plays a lossless receiver: every data segment is answered
// with a cumulative ack, the close segment with a close ack.
type ackingChannel struct {
	recordingChannel
	received   map[int]bool
	cumulative int
	replies    [][]byte
}

func newAckingChannel(size int) *ackingChannel {
	return &ackingChannel{recordingChannel: recordingChannel{size: size}, received: map[int]bool{}}
}

func (c *ackingChannel) Send(b []byte) error {
	if err := c.recordingChannel.Send(b); err != nil {
		return err
	}
	seg := c.last()
	if seg.Close {
		reply := &Segment{SeqNumber: seg.SeqNumber, Close: true, Ack: true}
		c.replies = append(c.replies, reply.Marshal(c.size))
		return nil
	}
	c.received[seg.SeqNumber] = true
	for c.received[c.cumulative+1] {
		c.cumulative++
	}
	c.replies = append(c.replies, NewAckSegment(c.cumulative, seg.SeqNumber).Marshal(c.size))
	return nil
}

func (c *ackingChannel) Receive(timeout time.Duration) ([]byte, error) {
	if len(c.replies) == 0 {
		return nil, ErrTimeout
	}
	b := c.replies[0]
	c.replies = c.replies[1:]
	return b, nil
}
