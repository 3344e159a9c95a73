// Package jsonfile reads test-corpus exports from local JSON files.
// A corpus file is either a top-level array of records or an object
// wrapping the array in a "rows" field; records are streamed so corpora
// larger than memory ingest in bounded space.
package jsonfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/custodia-labs/testseek/internal/core/domain"
	"github.com/custodia-labs/testseek/internal/core/ports/driving"
)

// Ensure Source implements the interface.
var _ driving.RecordSource = (*Source)(nil)

// Source streams raw records from one corpus file.
type Source struct {
	path string
	id   string

	file    *os.File
	decoder *json.Decoder
	started bool
}

// NewSource opens a corpus file. The source id is the file's base name,
// so checkpoints survive the corpus moving between directories.
func NewSource(path string) (*Source, error) {
	s := &Source{path: path, id: filepath.Base(path)}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Source) open() error {
	file, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open corpus %s: %w", s.path, err)
	}
	s.file = file
	s.decoder = json.NewDecoder(file)
	s.started = false
	return nil
}

// ID names the source for checkpointing and provenance.
func (s *Source) ID() string { return s.id }

// Next returns the next record, or (nil, nil) at end of input.
func (s *Source) Next() (*domain.RawRecord, error) {
	if !s.started {
		if err := s.seekToArray(); err != nil {
			return nil, err
		}
		s.started = true
	}

	if !s.decoder.More() {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := s.decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("%w: decode record in %s: %w", domain.ErrInvalidInput, s.id, err)
	}
	return &domain.RawRecord{SourceID: s.id, Fields: fields}, nil
}

// seekToArray positions the decoder at the first element of the record
// array, whether the file is a bare array or wraps it in "rows".
func (s *Source) seekToArray() error {
	tok, err := s.decoder.Token()
	if err != nil {
		return fmt.Errorf("%w: corpus %s is not valid JSON: %w", domain.ErrInvalidInput, s.id, err)
	}

	delim, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("%w: corpus %s must start with an array or object", domain.ErrInvalidInput, s.id)
	}

	if delim == '[' {
		return nil
	}
	if delim != '{' {
		return fmt.Errorf("%w: corpus %s must start with an array or object", domain.ErrInvalidInput, s.id)
	}

	// Scan object keys for the rows array.
	for s.decoder.More() {
		keyTok, err := s.decoder.Token()
		if err != nil {
			return fmt.Errorf("%w: corpus %s: %w", domain.ErrInvalidInput, s.id, err)
		}
		key, _ := keyTok.(string)
		if key == "rows" {
			open, err := s.decoder.Token()
			if err != nil {
				return fmt.Errorf("%w: corpus %s: %w", domain.ErrInvalidInput, s.id, err)
			}
			if d, ok := open.(json.Delim); !ok || d != '[' {
				return fmt.Errorf("%w: corpus %s: rows is not an array", domain.ErrInvalidInput, s.id)
			}
			return nil
		}
		// Skip the value of any other key.
		var skip json.RawMessage
		if err := s.decoder.Decode(&skip); err != nil {
			return fmt.Errorf("%w: corpus %s: %w", domain.ErrInvalidInput, s.id, err)
		}
	}
	return fmt.Errorf("%w: corpus %s has no rows array", domain.ErrInvalidInput, s.id)
}

// Rewind reopens the file so the ingestion retry pass can re-read
// deferred chunks.
func (s *Source) Rewind() error {
	if s.file != nil {
		s.file.Close()
	}
	return s.open()
}

// Close releases the file handle.
func (s *Source) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}
