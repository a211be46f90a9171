package spool

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// listReader follows the segment muxer's csv list. Each complete line
// names a closed segment; a partial trailing line waits for the next read.
type listReader struct {
	path   string
	offset int64
}

func newListReader(path string) *listReader {
	return &listReader{path: path}
}

func (r *listReader) reset() { r.offset = 0 }

// readNew returns segment names appended since the last call. A list that
// shrank was recreated by a new encoder run and is read from the start.
func (r *listReader) readNew() ([]string, error) {
	f, err := os.Open(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < r.offset {
		r.offset = 0
	}
	if info.Size() == r.offset {
		return nil, nil
	}
	if _, err := f.Seek(r.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil, nil
	}
	complete := data[:end+1]
	r.offset += int64(len(complete))

	reader := csv.NewReader(bytes.NewReader(complete))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	names := make([]string, 0, len(records))
	for _, rec := range records {
		if len(rec) == 0 {
			continue
		}
		name := filepath.Base(strings.TrimSpace(rec[0]))
		if name == "" || name == "." {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
