package protocol

import (
	"fmt"
	"io"
)

// Tracer writes the line oriented protocol log. Every line is one event and
// the field layout is fixed, log checkers parse it.
type Tracer struct {
	w io.Writer
}

func NewTracer(w io.Writer) *Tracer {
	if w == nil {
		w = io.Discard
	}
	return &Tracer{w: w}
}

func (t *Tracer) printf(format string, args ...interface{}) {
	fmt.Fprintf(t.w, format, args...)
}

// sender side

func (t *Tracer) SendData(seq, winSize int, resend bool) {
	if resend {
		t.printf("resnd\tdata\t#%d,\twinSize = %d\n", seq, winSize)
		return
	}
	t.printf("send\tdata\t#%d,\twinSize = %d\n", seq, winSize)
}

func (t *Tracer) RecvAck(ack, sack int) {
	t.printf("recv\tack\t#%d,\tsack\t#%d\n", ack, sack)
}

func (t *Tracer) Timeout(threshold, winSize int) {
	t.printf("time\tout,\tthreshold = %d,\twinSize = %d\n", threshold, winSize)
}

func (t *Tracer) SendFin()    { t.printf("send\tfin\n") }
func (t *Tracer) RecvFinack() { t.printf("recv\tfinack\n") }

// receiver side

func (t *Tracer) RecvInOrder(seq int) {
	t.printf("recv\tdata\t#%d\t(in order)\n", seq)
}

func (t *Tracer) RecvOutOfOrder(seq int) {
	t.printf("recv\tdata\t#%d\t(out of order, sack-ed)\n", seq)
}

func (t *Tracer) DropCorrupted(seq int) {
	t.printf("drop\tdata\t#%d\t(corrupted)\n", seq)
}

func (t *Tracer) DropOverflow(seq int) {
	t.printf("drop\tdata\t#%d\t(buffer overflow)\n", seq)
}

func (t *Tracer) SendAck(ack, sack int) {
	t.printf("send\tack\t#%d,\tsack\t#%d\n", ack, sack)
}

func (t *Tracer) RecvFin()    { t.printf("recv\tfin\n") }
func (t *Tracer) SendFinack() { t.printf("send\tfinack\n") }
func (t *Tracer) Flush()      { t.printf("flush\n") }

func (t *Tracer) Sha256(n int, digest string) {
	t.printf("sha256\t%d\t%s\n", n, digest)
}

func (t *Tracer) Finsha(digest string) {
	t.printf("finsha\t%s\n", digest)
}

// agent

// Relay logs one relay step, op is one of get, fwd, drop, corrupt.
func (t *Tracer) Relay(op string, seg *Segment) {
	switch {
	case seg.Close && seg.Ack:
		t.printf("%s\tfinack\n", op)
	case seg.Close:
		t.printf("%s\tfin\n", op)
	case seg.Ack:
		t.printf("%s\tack\t#%d,\tsack\t#%d\n", op, seg.AckNumber, seg.SackNumber)
	default:
		t.printf("%s\tdata\t#%d\n", op, seg.SeqNumber)
	}
}
