package index

import (
	"errors"
	"os"

	"github.com/edsrzf/mmap-go"
)

var errUnorderedKey = errors.New("keys must be appended in increasing order")

func createFile(filename string) (*os.File, error) {
	return os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
}

// mapFile maps a file read-only. Empty files cannot be mapped and yield a
// nil mapping.
func mapFile(filename string) (*os.File, mmap.MMap, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	if info.Size() == 0 {
		return file, nil, nil
	}

	data, err := mmap.Map(file, mmap.RDONLY, 0)
	if err != nil {
		_ = file.Close()
		return nil, nil, err
	}

	return file, data, nil
}

func unmapFile(file *os.File, data mmap.MMap) error {
	if data != nil {
		if err := data.Unmap(); err != nil {
			_ = file.Close()
			return err
		}
	}

	return file.Close()
}
