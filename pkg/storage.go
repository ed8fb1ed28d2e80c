package protocol

import (
	"os"

	"github.com/pkg/errors"
)

// ReadSource loads the whole source file, refusing anything over maxSize.
func ReadSource(path string, maxSize int) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() > int64(maxSize) {
		return nil, errors.Wrapf(ErrFileTooLarge, "%s is %d bytes, limit %d", path, info.Size(), maxSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

// WriteOutput replaces path with data.
func WriteOutput(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	return nil
}
