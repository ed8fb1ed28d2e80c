package protocol

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Receiver reassembles one transfer into memory and writes it to dst when
// the close segment arrives. It has no timers, all recovery is sender driven.
type Receiver struct {
	Finished    bool
	FinalDigest string

	cfg     Config
	channel Channel
	trace   *Tracer
	window  *Window
	output  []byte
	digest  *RunningDigest
	dst     string
}

func NewReceiver(cfg Config, channel Channel, dst string, tracer *Tracer) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	return &Receiver{
		cfg:     cfg,
		channel: channel,
		trace:   tracer,
		window:  NewWindow(cfg.WindowSize),
		digest:  NewRunningDigest(),
		dst:     dst,
	}, nil
}

func (r *Receiver) Window() *Window { return r.window }

// Output is every byte committed so far.
func (r *Receiver) Output() []byte { return r.output }

// Run receives and handles segments until the close segment is processed.
func (r *Receiver) Run() error {
	for !r.Finished {
		b, err := r.channel.Receive(0)
		if err != nil {
			return errors.Wrap(err, "receive segment")
		}
		if err := r.Handle(b); err != nil {
			return err
		}
	}
	return nil
}

// Handle processes one raw datagram. A datagram whose header does not decode
// is handled like a corrupted data segment.
func (r *Receiver) Handle(b []byte) error {
	seg, err := Unmarshal(b, r.cfg.MaxSegmentSize)
	if err != nil {
		r.trace.DropCorrupted(PeekSeqNumber(b))
		return r.sendPureAck()
	}
	return r.HandleSegment(seg)
}

func (r *Receiver) HandleSegment(seg *Segment) error {
	if seg.Ack && !seg.Close {
		return nil
	}

	w := r.window
	expected := w.Expected()
	if seg.Close {
		if seg.SeqNumber != expected {
			// only an in-order close ends the transfer, anything else would truncate it
			log.Warn().Int("seq", seg.SeqNumber).Int("expected", expected).Msg("ignoring early close")
			return r.sendPureAck()
		}
		return r.close(seg)
	}
	switch {
	case IsCorrupt(seg):
		r.trace.DropCorrupted(seg.SeqNumber)
		return r.sendPureAck()

	case seg.SeqNumber == expected:
		r.trace.RecvInOrder(seg.SeqNumber)
		if err := w.Put(seg); err != nil {
			return err
		}
		w.Advance()
		if err := r.sendAck(w.Expected()-1, seg.SeqNumber); err != nil {
			return err
		}
		if w.Full() {
			return r.flush()
		}
		return nil

	case seg.SeqNumber < expected:
		// already delivered or buffered, acknowledge it again
		r.trace.RecvOutOfOrder(seg.SeqNumber)
		return r.sendAck(expected-1, seg.SeqNumber)

	case seg.SeqNumber > w.Limit():
		r.trace.DropOverflow(seg.SeqNumber)
		return r.sendPureAck()

	default:
		r.trace.RecvOutOfOrder(seg.SeqNumber)
		if err := w.Put(seg); err != nil {
			return err
		}
		return r.sendAck(expected-1, seg.SeqNumber)
	}
}

// sendPureAck repeats the cumulative ack without naming any new segment.
func (r *Receiver) sendPureAck() error {
	cumulative := r.window.Expected() - 1
	return r.sendAck(cumulative, cumulative)
}

func (r *Receiver) sendAck(ack, sack int) error {
	seg := NewAckSegment(ack, sack)
	if err := r.channel.Send(seg.Marshal(r.cfg.MaxSegmentSize)); err != nil {
		return errors.Wrapf(err, "send %s", seg)
	}
	r.trace.SendAck(ack, sack)
	return nil
}

func (r *Receiver) commit(seg *Segment) error {
	data := seg.Data()
	if len(r.output)+len(data) > r.cfg.MaxFileSize {
		return errors.Wrapf(ErrOutputFull, "committing seq %d", seg.SeqNumber)
	}
	r.output = append(r.output, data...)
	r.digest.Write(data)
	return nil
}

func (r *Receiver) flush() error {
	if err := r.window.Flush(r.commit); err != nil {
		return err
	}
	r.trace.Flush()
	r.trace.Sha256(r.digest.Len(), r.digest.Sum())
	return nil
}

// close acknowledges the close segment, commits what is buffered and writes
// the output file. Close segments are never checksum validated, and are only
// taken in order.
func (r *Receiver) close(seg *Segment) error {
	r.trace.RecvFin()
	reply := &Segment{SeqNumber: seg.SeqNumber, Close: true, Ack: true}
	if err := r.channel.Send(reply.Marshal(r.cfg.MaxSegmentSize)); err != nil {
		return errors.Wrap(err, "send close ack")
	}
	r.trace.SendFinack()

	if err := r.flush(); err != nil {
		return err
	}
	if r.dst != "" {
		if err := WriteOutput(r.dst, r.output); err != nil {
			return err
		}
	}
	r.FinalDigest = r.digest.Sum()
	r.trace.Finsha(r.FinalDigest)
	r.Finished = true
	return nil
}
