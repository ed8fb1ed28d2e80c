package protocol

import (
	"encoding/binary"
	"fmt"

	"github.com/google/netstack/tcpip/header"
	"github.com/pkg/errors"
)

const (
	TCPHeaderLen     = header.TCPMinimumSize
	ExtensionLen     = 12 // sack(4) crc(4) length(2) reserved(2)
	SegmentHeaderLen = TCPHeaderLen + ExtensionLen

	flagAck   = uint8(header.TCPFlagAck)
	flagClose = uint8(header.TCPFlagFin)
)

// Segment is one datagram of the transfer. Payload is always the full fixed
// size block, Length says how much of it is file content.
type Segment struct {
	SeqNumber  int
	AckNumber  int
	SackNumber int
	Close      bool
	Ack        bool
	Checksum   uint32
	Length     int
	Payload    []byte
}

// NewDataSegment copies data into a zero padded block of payloadSize bytes.
func NewDataSegment(seq int, data []byte, payloadSize int) *Segment {
	block := make([]byte, payloadSize)
	n := copy(block, data)
	return &Segment{
		SeqNumber: seq,
		Length:    n,
		Payload:   block,
		Checksum:  PayloadChecksum(block),
	}
}

func NewAckSegment(ack, sack int) *Segment {
	return &Segment{AckNumber: ack, SackNumber: sack, Ack: true}
}

func NewCloseSegment(seq int) *Segment {
	return &Segment{SeqNumber: seq, Close: true}
}

// IsData reports whether the segment carries file content.
func (seg *Segment) IsData() bool {
	return !seg.Ack && !seg.Close
}

// Data returns the valid bytes of the payload.
func (seg *Segment) Data() []byte {
	if seg.Length > len(seg.Payload) {
		return seg.Payload
	}
	return seg.Payload[:seg.Length]
}

// IsCorrupt checks the payload CRC. Control segments are never corrupt.
func IsCorrupt(seg *Segment) bool {
	if !seg.IsData() {
		return false
	}
	return PayloadChecksum(seg.Payload) != seg.Checksum
}

func (seg *Segment) flags() uint8 {
	var flags uint8
	if seg.Ack {
		flags |= flagAck
	}
	if seg.Close {
		flags |= flagClose
	}
	return flags
}

func (seg *Segment) String() string {
	switch {
	case seg.Close && seg.Ack:
		return "finack"
	case seg.Close:
		return fmt.Sprintf("fin #%d", seg.SeqNumber)
	case seg.Ack:
		return fmt.Sprintf("ack #%d, sack #%d", seg.AckNumber, seg.SackNumber)
	}
	return fmt.Sprintf("data #%d (%d bytes)", seg.SeqNumber, seg.Length)
}

// Marshal encodes the segment with a payload block of exactly payloadSize bytes.
func (seg *Segment) Marshal(payloadSize int) []byte {
	b := make([]byte, SegmentHeaderLen+payloadSize)

	tcpHeader := header.TCPFields{
		SeqNum:     uint32(seg.SeqNumber),
		AckNum:     uint32(seg.AckNumber),
		DataOffset: SegmentHeaderLen,
		Flags:      seg.flags(),
		Checksum:   0,
	}
	header.TCP(b[:TCPHeaderLen]).Encode(&tcpHeader)

	ext := b[TCPHeaderLen:SegmentHeaderLen]
	binary.BigEndian.PutUint32(ext[0:4], uint32(seg.SackNumber))
	binary.BigEndian.PutUint32(ext[4:8], seg.Checksum)
	binary.BigEndian.PutUint16(ext[8:10], uint16(seg.Length))

	copy(b[SegmentHeaderLen:], seg.Payload)

	// header checksum covers the tcp header and the extension
	header.TCP(b[:TCPHeaderLen]).SetChecksum(ComputeChecksum(b[:SegmentHeaderLen]))
	return b
}

// Unmarshal decodes a datagram produced by Marshal with the same payloadSize.
// Header damage is reported as ErrMalformed, payload damage is left to IsCorrupt.
func Unmarshal(b []byte, payloadSize int) (*Segment, error) {
	if len(b) != SegmentHeaderLen+payloadSize {
		return nil, errors.Wrapf(ErrMalformed, "datagram is %d bytes, want %d", len(b), SegmentHeaderLen+payloadSize)
	}
	tcpHdr := header.TCP(b[:TCPHeaderLen])

	hdr := make([]byte, SegmentHeaderLen)
	copy(hdr, b[:SegmentHeaderLen])
	header.TCP(hdr[:TCPHeaderLen]).SetChecksum(0)
	if ComputeChecksum(hdr) != tcpHdr.Checksum() {
		return nil, errors.Wrapf(ErrMalformed, "bad header checksum for seq %d", tcpHdr.SequenceNumber())
	}
	if int(tcpHdr.DataOffset()) != SegmentHeaderLen {
		return nil, errors.Wrapf(ErrMalformed, "bad data offset %d", tcpHdr.DataOffset())
	}

	ext := b[TCPHeaderLen:SegmentHeaderLen]
	length := int(binary.BigEndian.Uint16(ext[8:10]))
	if length > payloadSize {
		return nil, errors.Wrapf(ErrMalformed, "length %d exceeds payload size %d", length, payloadSize)
	}

	flags := tcpHdr.Flags()
	payload := make([]byte, payloadSize)
	copy(payload, b[SegmentHeaderLen:])
	return &Segment{
		SeqNumber:  int(tcpHdr.SequenceNumber()),
		AckNumber:  int(tcpHdr.AckNumber()),
		SackNumber: int(binary.BigEndian.Uint32(ext[0:4])),
		Close:      flags&flagClose != 0,
		Ack:        flags&flagAck != 0,
		Checksum:   binary.BigEndian.Uint32(ext[4:8]),
		Length:     length,
		Payload:    payload,
	}, nil
}

// PeekSeqNumber reads the seq number field without any validation.
func PeekSeqNumber(b []byte) int {
	if len(b) < TCPHeaderLen {
		return 0
	}
	return int(header.TCP(b).SequenceNumber())
}
