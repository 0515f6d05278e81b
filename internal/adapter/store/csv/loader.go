// Package csv loads coordinate override tables.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.ngs.io/dsg-ingest/internal/domain"
)

var expectedHeaders = []string{"variable", "time", "latitude", "longitude", "depth"}

// LoadOverrides reads a coordinate override table from a CSV file. Each row
// names a data variable and the four variables holding its coordinates.
func LoadOverrides(path string) (domain.CoordinateOverrides, error) {
	//nolint:gosec // G304: Path comes from operator configuration.
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open override file %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	return ReadOverrides(file)
}

// ReadOverrides parses a coordinate override table.
func ReadOverrides(r io.Reader) (domain.CoordinateOverrides, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) != len(expectedHeaders) {
		return nil, fmt.Errorf("invalid CSV header: expected %v, got %v", expectedHeaders, header)
	}
	for i, h := range header {
		if strings.TrimSpace(h) != expectedHeaders[i] {
			return nil, fmt.Errorf("invalid CSV header: expected column %d to be %s, got %s", i, expectedHeaders[i], h)
		}
	}

	overrides := make(domain.CoordinateOverrides)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}

		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}
		name := record[0]
		if name == "" {
			return nil, fmt.Errorf("invalid CSV record: empty variable name")
		}
		if _, dup := overrides[name]; dup {
			return nil, fmt.Errorf("duplicate override for variable %s", name)
		}

		c := domain.Coordinates{Time: record[1], Latitude: record[2], Longitude: record[3], Depth: record[4]}
		if !c.Complete() {
			return nil, fmt.Errorf("override for variable %s must name all four coordinates", name)
		}
		overrides[name] = c
	}
	return overrides, nil
}
