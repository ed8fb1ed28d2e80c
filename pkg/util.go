package protocol

import (
	"strconv"

	"github.com/pkg/errors"
)

var (
	ErrTimeout      = errors.New("deadline elapsed")
	ErrMalformed    = errors.New("malformed segment")
	ErrFileTooLarge = errors.New("file exceeds maximum supported size")
	ErrOutputFull   = errors.New("output exceeds maximum supported size")
)

// IsTimeout reports whether err (or its cause) is ErrTimeout.
func IsTimeout(err error) bool {
	return errors.Cause(err) == ErrTimeout
}

func parsePort(s string) (uint16, error) {
	port, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, errors.Wrapf(err, "bad port %q", s)
	}
	return uint16(port), nil
}
