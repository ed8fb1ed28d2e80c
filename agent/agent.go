// Package agent relays segments between a sender and a receiver while
// injecting loss, corruption, duplication and reordering into the data path.
package agent

import (
	"encoding/json"
	"math/rand"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	protocol "rdt-sack-pa/pkg"
	"rdt-sack-pa/priorityQueue"
)

// PacketConn is the datagram endpoint the relay listens on. link.Conn
// satisfies it.
type PacketConn interface {
	SendTo(b []byte, dst netip.AddrPort) error
	ReceiveFrom(timeout time.Duration) ([]byte, netip.AddrPort, error)
}

type Config struct {
	Sender      netip.AddrPort
	Receiver    netip.AddrPort
	PayloadSize int

	LossRate    float64 // data segments dropped
	CorruptRate float64 // data segments forwarded with one payload byte flipped
	DupRate     float64 // data segments forwarded twice
	ReorderRate float64 // data segments held back for Delay
	Delay       time.Duration
	Seed        int64
}

func (c Config) Validate() error {
	for name, p := range map[string]float64{
		"loss": c.LossRate, "corrupt": c.CorruptRate, "dup": c.DupRate, "reorder": c.ReorderRate,
	} {
		if p < 0 || p > 1 {
			return errors.Errorf("%s rate %v outside [0, 1]", name, p)
		}
	}
	if c.PayloadSize <= 0 {
		return errors.Errorf("invalid payload size %d", c.PayloadSize)
	}
	if c.ReorderRate > 0 && c.Delay <= 0 {
		return errors.New("reordering needs a positive delay")
	}
	return nil
}

type Stats struct {
	Data       int `json:"data"`
	Forwarded  int `json:"forwarded"`
	Dropped    int `json:"dropped"`
	Corrupted  int `json:"corrupted"`
	Duplicated int `json:"duplicated"`
	Delayed    int `json:"delayed"`
	Acks       int `json:"acks"`
	Malformed  int `json:"malformed"`
}

// Relay forwards data and close segments to the receiver and acks to the
// sender. It stops after forwarding the close ack.
type Relay struct {
	cfg     Config
	conn    PacketConn
	trace   *protocol.Tracer
	rng     *rand.Rand
	pending priorityQueue.PriorityQueue
	now     func() time.Time
	done    bool

	mu    sync.Mutex
	stats Stats
}

func NewRelay(cfg Config, conn PacketConn, tracer *protocol.Tracer) (*Relay, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if tracer == nil {
		tracer = protocol.NewTracer(nil)
	}
	return &Relay{
		cfg:   cfg,
		conn:  conn,
		trace: tracer,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		now:   time.Now,
	}, nil
}

func (r *Relay) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Relay) count(f func(*Stats)) {
	r.mu.Lock()
	f(&r.stats)
	r.mu.Unlock()
}

// StatsHandler serves the counters as JSON.
func (r *Relay) StatsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(r.Stats()); err != nil {
			log.Warn().Err(err).Msg("encoding stats")
		}
	})
}

func (r *Relay) Done() bool { return r.done }

// Run relays until the close ack has been forwarded.
func (r *Relay) Run() error {
	for !r.done {
		if err := r.release(); err != nil {
			return err
		}

		var timeout time.Duration
		if next, ok := r.pending.Next(); ok {
			timeout = next.Sub(r.now())
			if timeout <= 0 {
				continue
			}
		}

		b, _, err := r.conn.ReceiveFrom(timeout)
		if protocol.IsTimeout(err) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "relay receive")
		}
		if err := r.Handle(b); err != nil {
			return err
		}
	}
	return r.drain()
}

// release sends every delayed packet that is due.
func (r *Relay) release() error {
	for _, p := range r.pending.Due(r.now()) {
		if err := r.sendDelayed(p); err != nil {
			return err
		}
	}
	return nil
}

// drain sends whatever is still held back, ignoring release times.
func (r *Relay) drain() error {
	for r.pending.Len() > 0 {
		next, _ := r.pending.Next()
		for _, p := range r.pending.Due(next) {
			if err := r.sendDelayed(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Relay) sendDelayed(p *priorityQueue.DelayedPacket) error {
	seg, err := protocol.Unmarshal(p.Data, r.cfg.PayloadSize)
	if err != nil {
		return errors.Wrap(err, "decode delayed packet")
	}
	return r.forward(p.Op, seg, p.Data, p.Dst)
}

// forward logs op for seg and sends b, one trace line per datagram sent.
func (r *Relay) forward(op string, seg *protocol.Segment, b []byte, dst netip.AddrPort) error {
	r.trace.Relay(op, seg)
	if err := r.conn.SendTo(b, dst); err != nil {
		return errors.Wrapf(err, "forward %s to %s", seg, dst)
	}
	return nil
}

// Handle routes one datagram.
func (r *Relay) Handle(b []byte) error {
	seg, err := protocol.Unmarshal(b, r.cfg.PayloadSize)
	if err != nil {
		r.count(func(s *Stats) { s.Malformed++ })
		log.Debug().Err(err).Msg("relay discarding malformed datagram")
		return nil
	}
	r.trace.Relay("get", seg)

	switch {
	case seg.IsData():
		return r.handleData(seg, b)
	case seg.Close && seg.Ack:
		r.done = true
		return r.forward("fwd", seg, b, r.cfg.Sender)
	case seg.Close:
		return r.forward("fwd", seg, b, r.cfg.Receiver)
	default:
		r.count(func(s *Stats) { s.Acks++ })
		return r.forward("fwd", seg, b, r.cfg.Sender)
	}
}

func (r *Relay) handleData(seg *protocol.Segment, b []byte) error {
	r.count(func(s *Stats) { s.Data++ })
	if r.rng.Float64() < r.cfg.LossRate {
		r.count(func(s *Stats) { s.Dropped++ })
		r.trace.Relay("drop", seg)
		return nil
	}

	op, out := "fwd", b
	if r.rng.Float64() < r.cfg.CorruptRate {
		op, out = "corrupt", Corrupt(b, r.rng)
		r.count(func(s *Stats) { s.Corrupted++ })
	} else {
		r.count(func(s *Stats) { s.Forwarded++ })
	}

	copies := 1
	if r.rng.Float64() < r.cfg.DupRate {
		copies = 2
		r.count(func(s *Stats) { s.Duplicated++ })
	}
	for i := 0; i < copies; i++ {
		if r.rng.Float64() < r.cfg.ReorderRate {
			// traced when it is released
			r.count(func(s *Stats) { s.Delayed++ })
			r.pending.Schedule(r.now().Add(r.cfg.Delay), r.cfg.Receiver, out, op)
			continue
		}
		if err := r.forward(op, seg, out, r.cfg.Receiver); err != nil {
			return err
		}
	}
	return nil
}

// Corrupt returns a copy of a marshaled segment with one payload byte flipped.
// The header is left intact so the damage is only visible to the CRC.
func Corrupt(b []byte, rng *rand.Rand) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	if len(out) <= protocol.SegmentHeaderLen {
		return out
	}
	i := protocol.SegmentHeaderLen + rng.Intn(len(out)-protocol.SegmentHeaderLen)
	out[i] ^= byte(1 + rng.Intn(255))
	return out
}
