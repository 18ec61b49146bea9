package vm

import (
	"fmt"
	"io"
	"os"
)

// Load reads a complete program image. There is no header: the image is the
// raw instruction stream.
func Load(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("load program: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyProgram
	}
	return data, nil
}

func LoadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := Load(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return data, nil
}
