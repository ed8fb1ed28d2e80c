package protocol

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Sender owns the transmit queue and the congestion state of one transfer.
// It is driven by a single goroutine, see Run.
type Sender struct {
	State CongestionState
	Stats SenderStats

	cfg      Config
	channel  Channel
	queue    *TransmitQueue
	trace    *Tracer
	deadline time.Time
	now      func() time.Time
}

func NewSender(cfg Config, channel Channel, data []byte, tracer *Tracer) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(data) > cfg.MaxFileSize {
		return nil, errors.Wrapf(ErrFileTooLarge, "%d bytes, limit %d", len(data), cfg.MaxFileSize)
	}
	if tracer == nil {
		tracer = NewTracer(nil)
	}
	return &Sender{
		cfg:     cfg,
		channel: channel,
		queue:   NewTransmitQueue(data, cfg.MaxSegmentSize),
		trace:   tracer,
		now:     time.Now,
	}, nil
}

// TotalSegments is the number of data segments, the close segment is one past it.
func (s *Sender) TotalSegments() int { return s.queue.Len() }

func (s *Sender) Queue() *TransmitQueue { return s.queue }

func (s *Sender) send(seg *Segment) error {
	if err := s.channel.Send(seg.Marshal(s.cfg.MaxSegmentSize)); err != nil {
		return errors.Wrapf(err, "send %s", seg)
	}
	return nil
}

// Run transfers the whole queue and then performs the close handshake.
// Each iteration either handles an elapsed deadline or waits for one ack
// no longer than the time left on the deadline.
func (s *Sender) Run() error {
	if err := s.Init(); err != nil {
		return err
	}
	for !s.queue.Done() {
		remaining := s.Remaining()
		if remaining <= 0 {
			if err := s.OnTimeout(); err != nil {
				return err
			}
			continue
		}

		b, err := s.channel.Receive(remaining)
		if IsTimeout(err) {
			if err := s.OnTimeout(); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			return errors.Wrap(err, "receive ack")
		}

		seg, err := Unmarshal(b, s.cfg.MaxSegmentSize)
		if err != nil {
			log.Warn().Err(err).Msg("ignoring malformed datagram")
			continue
		}
		if !seg.Ack || seg.Close {
			continue
		}
		if err := s.HandleAck(seg); err != nil {
			return err
		}
	}
	return s.Close()
}

// Close sends the close segment once and blocks until a close ack arrives.
// Neither step is retried: a lost close or close ack blocks forever.
func (s *Sender) Close() error {
	if err := s.send(NewCloseSegment(s.queue.Len() + 1)); err != nil {
		return err
	}
	s.trace.SendFin()
	for {
		b, err := s.channel.Receive(0)
		if err != nil {
			return errors.Wrap(err, "receive close ack")
		}
		seg, err := Unmarshal(b, s.cfg.MaxSegmentSize)
		if err != nil {
			continue
		}
		if seg.Close && seg.Ack {
			s.trace.RecvFinack()
			return nil
		}
	}
}
