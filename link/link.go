package link

import (
	"net"
	"net/netip"
	"time"

	ipv4header "github.com/brown-csci1680/iptcp-headers"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	protocol "rdt-sack-pa/pkg"
)

const (
	ProtocolNumber = 6  // segments ride in virtual IPv4 packets marked as tcp
	DefaultTTL     = 16
	MaxDatagram    = 65535
)

// Conn is a UDP socket carrying segments inside virtual IPv4 packets.
// Packets whose IPv4 header does not validate are discarded on receipt,
// so to the protocol above they look like losses.
type Conn struct {
	LocalAddr netip.AddrPort
	PeerAddr  netip.AddrPort
	Dropped   int // packets discarded for a bad ip header

	conn *net.UDPConn
	buf  []byte
}

// Listen binds local and uses peer as the default destination.
func Listen(local, peer netip.AddrPort) (*Conn, error) {
	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(local))
	if err != nil {
		return nil, errors.Wrapf(err, "listen on %s", local)
	}
	bound := conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return &Conn{
		LocalAddr: netip.AddrPortFrom(local.Addr(), bound.Port()),
		PeerAddr:  peer,
		conn:      conn,
		buf:       make([]byte, MaxDatagram),
	}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// Send implements protocol.Channel.
func (c *Conn) Send(data []byte) error {
	return c.SendTo(data, c.PeerAddr)
}

// Receive implements protocol.Channel.
func (c *Conn) Receive(timeout time.Duration) ([]byte, error) {
	data, _, err := c.ReceiveFrom(timeout)
	return data, err
}

func (c *Conn) SendTo(data []byte, dst netip.AddrPort) error {
	packet, err := Encapsulate(c.LocalAddr.Addr(), dst.Addr(), data)
	if err != nil {
		return err
	}
	if _, err := c.conn.WriteToUDPAddrPort(packet, dst); err != nil {
		return errors.Wrapf(err, "write to %s", dst)
	}
	return nil
}

// ReceiveFrom waits for one valid packet and returns its payload and the UDP
// source. A positive timeout bounds the whole wait, including time spent on
// discarded packets; zero blocks.
func (c *Conn) ReceiveFrom(timeout time.Duration) ([]byte, netip.AddrPort, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return nil, netip.AddrPort{}, errors.Wrap(err, "set read deadline")
	}

	for {
		n, from, err := c.conn.ReadFromUDPAddrPort(c.buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, netip.AddrPort{}, protocol.ErrTimeout
			}
			return nil, netip.AddrPort{}, errors.Wrap(err, "read udp")
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())

		payload, err := Decapsulate(c.buf[:n])
		if err != nil {
			c.Dropped++
			log.Debug().Err(err).Str("from", from.String()).Msg("discarding packet")
			continue
		}
		return payload, from, nil
	}
}

// Encapsulate prefixes data with a virtual IPv4 header.
func Encapsulate(src, dst netip.Addr, data []byte) ([]byte, error) {
	hdr := ipv4header.IPv4Header{
		Version:  4,
		Len:      ipv4header.HeaderLen,
		TOS:      0,
		TotalLen: ipv4header.HeaderLen + len(data),
		ID:       0,
		Flags:    0,
		FragOff:  0,
		TTL:      DefaultTTL,
		Protocol: ProtocolNumber,
		Checksum: 0, // Should be 0 until checksum is computed
		Src:      src,
		Dst:      dst,
		Options:  []byte{},
	}
	headerBytes, err := hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ip header")
	}
	hdr.Checksum = int(protocol.ComputeChecksum(headerBytes))
	headerBytes, err = hdr.Marshal()
	if err != nil {
		return nil, errors.Wrap(err, "marshal ip header")
	}

	packet := make([]byte, 0, len(headerBytes)+len(data))
	packet = append(packet, headerBytes...)
	packet = append(packet, data...)
	return packet, nil
}

// Decapsulate validates the virtual IPv4 header and returns a copy of the payload.
func Decapsulate(packet []byte) ([]byte, error) {
	hdr, err := ipv4header.ParseHeader(packet)
	if err != nil {
		return nil, errors.Wrap(err, "parse ip header")
	}
	if hdr.Len < ipv4header.HeaderLen || hdr.TotalLen < hdr.Len || hdr.TotalLen > len(packet) {
		return nil, errors.Errorf("bad ip lengths header=%d total=%d packet=%d", hdr.Len, hdr.TotalLen, len(packet))
	}
	if hdr.Protocol != ProtocolNumber {
		return nil, errors.Errorf("unexpected protocol %d", hdr.Protocol)
	}

	headerBytes := make([]byte, hdr.Len)
	copy(headerBytes, packet[:hdr.Len])
	headerBytes[10], headerBytes[11] = 0, 0
	if computed := protocol.ComputeChecksum(headerBytes); int(computed) != hdr.Checksum {
		return nil, errors.Errorf("bad ip header checksum %#04x, computed %#04x", hdr.Checksum, computed)
	}

	payload := make([]byte, hdr.TotalLen-hdr.Len)
	copy(payload, packet[hdr.Len:hdr.TotalLen])
	return payload, nil
}
