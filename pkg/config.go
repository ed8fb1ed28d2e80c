package protocol

import (
	"net/netip"
	"time"

	"github.com/pkg/errors"
)

const (
	MaxSegmentSize    = 1000            // payload bytes carried by one segment
	WindowSize        = 256             // receiver reassembly window, in segments
	RetransmitTimeout = time.Second     // single retransmission deadline
	MaxFileSize       = 10240000        // 10 MB, whole file is held in memory
	InitialThreshold  = 16              // slow start threshold at init
	FastRetransmitAck = 3               // duplicate acks that trigger a fast retransmit
	loopbackAddr      = "127.0.0.1"     // what 0.0.0.0 / local / localhost resolve to
)

// Config carries the build time constants so tests can shrink them.
type Config struct {
	MaxSegmentSize int
	WindowSize     int
	Timeout        time.Duration
	MaxFileSize    int
}

func DefaultConfig() Config {
	return Config{
		MaxSegmentSize: MaxSegmentSize,
		WindowSize:     WindowSize,
		Timeout:        RetransmitTimeout,
		MaxFileSize:    MaxFileSize,
	}
}

func (c Config) Validate() error {
	if c.MaxSegmentSize <= 0 || c.MaxSegmentSize > 0xffff {
		return errors.Errorf("invalid max segment size %d", c.MaxSegmentSize)
	}
	if c.WindowSize <= 0 {
		return errors.Errorf("invalid window size %d", c.WindowSize)
	}
	if c.Timeout <= 0 {
		return errors.Errorf("invalid retransmission timeout %v", c.Timeout)
	}
	if c.MaxFileSize <= 0 {
		return errors.Errorf("invalid max file size %d", c.MaxFileSize)
	}
	return nil
}

// SegmentCount is the number of data segments needed for size bytes.
func (c Config) SegmentCount(size int) int {
	return (size + c.MaxSegmentSize - 1) / c.MaxSegmentSize
}

// NormalizeAddr maps the wildcard and local names onto the loopback address.
func NormalizeAddr(s string) (netip.Addr, error) {
	if s == "0.0.0.0" || s == "local" || s == "localhost" {
		s = loopbackAddr
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, errors.Wrapf(err, "bad address %q", s)
	}
	return addr, nil
}

// ParseAddrPort normalizes addr and joins it with a decimal port.
func ParseAddrPort(addr, port string) (netip.AddrPort, error) {
	ip, err := NormalizeAddr(addr)
	if err != nil {
		return netip.AddrPort{}, err
	}
	p, err := parsePort(port)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return netip.AddrPortFrom(ip, p), nil
}
