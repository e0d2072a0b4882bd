package pipeline

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"

	"github.com/radiusdt/ltv-pipeline/internal/normalize"
)

// CSVSource streams a headered CSV export as raw records, in chunks,
// so arbitrarily large inputs never have to fit in memory.
type CSVSource struct {
	path string
}

// NewCSVSource creates a source over the given file path.
func NewCSVSource(path string) *CSVSource {
	return &CSVSource{path: path}
}

// Each reads the file and invokes fn with successive chunks of at most
// chunkSize records. Reading stops at the first error from fn.
func (s *CSVSource) Each(chunkSize int, fn func(records []normalize.RawRecord) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("failed to open input file %s: %w", s.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if err == io.EOF {
		return fmt.Errorf("input file %s is empty", s.path)
	}
	if err != nil {
		return fmt.Errorf("failed to read CSV header: %w", err)
	}

	chunk := make([]normalize.RawRecord, 0, chunkSize)
	for {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read CSV row: %w", err)
		}

		rec := make(normalize.RawRecord, len(header))
		for i, col := range header {
			if i < len(fields) {
				rec[col] = fields[i]
			}
		}
		chunk = append(chunk, rec)

		if len(chunk) >= chunkSize {
			if err := fn(chunk); err != nil {
				return err
			}
			chunk = chunk[:0]
		}
	}

	if len(chunk) > 0 {
		return fn(chunk)
	}
	return nil
}
