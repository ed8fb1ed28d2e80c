package protocol

import (
	"time"
)

type Phase int

const (
	SlowStart Phase = iota
	CongestionAvoidance
)

func (p Phase) String() string {
	if p == CongestionAvoidance {
		return "congestion-avoidance"
	}
	return "slow-start"
}

// CongestionState is owned by the sender loop and mutated only from it.
type CongestionState struct {
	Cwnd       float64 // real valued, never below 1
	Threshold  int
	DupAcks    int
	Phase      Phase
	Base       int // first unacknowledged seq number
	MaxSentSeq int // highest seq number ever transmitted
}

// WinSize is the integral window used for transmission decisions.
func (cs *CongestionState) WinSize() int {
	return int(cs.Cwnd)
}

type SenderStats struct {
	Sent            int
	Resent          int
	Timeouts        int
	FastRetransmits int
	DupAcks         int
	NewAcks         int
}

func (s *Sender) resetTimer() {
	s.deadline = s.now().Add(s.cfg.Timeout)
}

// Remaining is the time left before the retransmission deadline.
func (s *Sender) Remaining() time.Duration {
	return s.deadline.Sub(s.now())
}

// Init resets the congestion state, sends the first segment and arms the deadline.
func (s *Sender) Init() error {
	s.State = CongestionState{
		Cwnd:      1,
		Threshold: InitialThreshold,
		DupAcks:   0,
		Phase:     SlowStart,
		Base:      1,
	}
	if err := s.transmitNew(1); err != nil {
		return err
	}
	s.resetTimer()
	return nil
}

// OnTimeout halves the threshold, collapses the window and resends base.
func (s *Sender) OnTimeout() error {
	st := &s.State
	st.Threshold = max(1, int(st.Cwnd/2))
	st.Cwnd = 1
	st.DupAcks = 0
	st.Phase = SlowStart
	s.Stats.Timeouts++
	s.trace.Timeout(st.Threshold, st.WinSize())
	if err := s.transmitMissing(); err != nil {
		return err
	}
	s.resetTimer()
	return nil
}

// HandleAck dispatches an acknowledgment to the duplicate or new ack path.
func (s *Sender) HandleAck(seg *Segment) error {
	s.trace.RecvAck(seg.AckNumber, seg.SackNumber)
	if s.isDuplicate(seg) {
		return s.dupAck(seg)
	}
	return s.newAck(seg)
}

// isDuplicate: the cumulative ack does not reach the base segment.
func (s *Sender) isDuplicate(seg *Segment) bool {
	base, ok := s.queue.Segment(s.State.Base)
	if !ok {
		return seg.AckNumber < s.State.Base
	}
	return seg.AckNumber < base.SeqNumber
}

func (s *Sender) dupAck(seg *Segment) error {
	st := &s.State
	st.DupAcks++
	s.Stats.DupAcks++
	s.queue.Mark(seg.SackNumber)

	n := 1
	if st.Base+st.WinSize()-1 >= s.queue.Len() {
		// the window already covers every remaining segment
		n = 0
	} else if seg.AckNumber == seg.SackNumber {
		// dropped or corrupted segment, nothing left the receiver buffer
		n = 0
	}
	if err := s.transmitNew(n); err != nil {
		return err
	}

	if st.DupAcks == FastRetransmitAck {
		s.Stats.FastRetransmits++
		return s.transmitMissing()
	}
	return nil
}

func (s *Sender) newAck(seg *Segment) error {
	st := &s.State
	st.DupAcks = 0
	s.Stats.NewAcks++
	s.queue.Mark(seg.SackNumber)
	s.queue.MarkThrough(seg.AckNumber)
	st.Base = seg.AckNumber + 1

	var increase int
	switch st.Phase {
	case SlowStart:
		increase = 1
		st.Cwnd += 1
		if st.Cwnd >= float64(st.Threshold) {
			st.Phase = CongestionAvoidance
		}
	case CongestionAvoidance:
		prev := st.WinSize()
		st.Cwnd += 1 / float64(prev)
		increase = st.WinSize() - prev
	}

	if err := s.transmitNew(1 + increase); err != nil {
		return err
	}
	s.resetTimer()
	return nil
}

// transmitNew sends the last n unacknowledged segments of the current window.
// The window is the first WinSize unacknowledged segments starting at base,
// so the tail is whatever the last growth step just opened.
func (s *Sender) transmitNew(n int) error {
	if n <= 0 {
		return nil
	}
	size := s.State.WinSize()
	window := s.queue.Window(s.State.Base, size)
	for i, seq := range window {
		if i+1 > size-n {
			if err := s.transmit(seq); err != nil {
				return err
			}
		}
	}
	return nil
}

// transmitMissing resends the base segment.
func (s *Sender) transmitMissing() error {
	if _, ok := s.queue.Segment(s.State.Base); !ok {
		return nil
	}
	return s.transmit(s.State.Base)
}

func (s *Sender) transmit(seq int) error {
	seg, ok := s.queue.Segment(seq)
	if !ok {
		return nil
	}
	if err := s.send(seg); err != nil {
		return err
	}
	resend := seq <= s.State.MaxSentSeq
	if resend {
		s.Stats.Resent++
	} else {
		s.Stats.Sent++
		s.State.MaxSentSeq = seq
	}
	s.trace.SendData(seq, s.State.WinSize(), resend)
	return nil
}
