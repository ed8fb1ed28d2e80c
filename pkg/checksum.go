package protocol

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"hash/crc32"

	"github.com/google/netstack/tcpip/header"
)

// ComputeChecksum is the internet checksum of b, inverted the way netstack expects.
func ComputeChecksum(b []byte) uint16 {
	checksum := header.Checksum(b, 0)
	return checksum ^ 0xffff
}

// PayloadChecksum is the per segment CRC, taken over the whole payload block.
func PayloadChecksum(block []byte) uint32 {
	return crc32.ChecksumIEEE(block)
}

// Digest is the hex sha256 of b.
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// RunningDigest hashes bytes as they are committed and can report the digest
// of everything written so far at any point.
type RunningDigest struct {
	h hash.Hash
	n int
}

func NewRunningDigest() *RunningDigest {
	return &RunningDigest{h: sha256.New()}
}

func (d *RunningDigest) Write(b []byte) (int, error) {
	d.n += len(b)
	return d.h.Write(b)
}

// Len is the number of bytes hashed so far.
func (d *RunningDigest) Len() int { return d.n }

func (d *RunningDigest) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
