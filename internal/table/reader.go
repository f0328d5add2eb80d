package table

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Reader decodes one tabular file format.
type Reader interface {
	CanRead(filename string) bool
	Read(name string, r io.Reader) (*Table, error)
}

var registry []Reader

// Register adds a reader implementation to the registry.
func Register(r Reader) {
	registry = append(registry, r)
}

// ErrUnsupportedFormat indicates the upload is not a tabular file we can read.
var ErrUnsupportedFormat = errors.New("unsupported file format: upload a .csv, .tsv or .xlsx file")

// Supported reports whether some registered reader accepts the filename.
func Supported(filename string) bool {
	for _, r := range registry {
		if r.CanRead(filename) {
			return true
		}
	}
	return false
}

// Read selects a reader by filename and decodes the stream.
func Read(filename string, r io.Reader) (*Table, error) {
	for _, rd := range registry {
		if rd.CanRead(filename) {
			t, err := rd.Read(filepath.Base(filename), r)
			if err != nil {
				return nil, err
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", filepath.Base(filename), ErrUnsupportedFormat)
}

// ReadFile opens path and decodes it with the matching reader.
func ReadFile(path string) (*Table, error) {
	if !Supported(path) {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrUnsupportedFormat)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()
	return Read(path, f)
}

func init() {
	Register(csvReader{})
	Register(xlsxReader{})
}
