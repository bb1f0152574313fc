// Package data loads payload files and deals their rows out as per-user
// variables.
package data

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"sockdrill/internal/config"
)

const (
	// OrderSequence deals rows in file order, wrapping around.
	OrderSequence = "sequence"
	// OrderRandom deals a random row each time.
	OrderRandom = "random"
)

// Source is one loaded payload file with row iteration.
type Source struct {
	path    string
	rows    []map[string]any
	order   string
	counter atomic.Uint64
	mu      sync.Mutex
	rng     *rand.Rand
}

// Load reads the payload file named by p, resolving a relative path
// against baseDir. CSV files map columns to p.Fields when given, and
// treat the first row as a header otherwise. JSON files must hold an
// array of objects.
func Load(p config.PayloadSettings, baseDir string) (*Source, error) {
	path := p.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}

	order := p.Order
	switch order {
	case "":
		order = OrderSequence
	case OrderSequence, OrderRandom:
	default:
		return nil, fmt.Errorf("payload %s: unknown order %q", p.Path, order)
	}

	var rows []map[string]any
	var err error
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		rows, err = loadCSV(path, p.Fields)
	case ".json":
		rows, err = loadJSON(path)
	default:
		err = fmt.Errorf("unsupported format %q (use .csv or .json)", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("payload %s: %w", p.Path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("payload %s: no rows", p.Path)
	}

	return &Source{
		path:  path,
		rows:  rows,
		order: order,
		rng:   rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

// Len returns the number of rows.
func (s *Source) Len() int {
	return len(s.rows)
}

// Next returns a copy of the next row per the source order. Safe for
// concurrent use by multiple virtual users.
func (s *Source) Next() map[string]any {
	var idx int
	switch s.order {
	case OrderRandom:
		s.mu.Lock()
		idx = s.rng.Intn(len(s.rows))
		s.mu.Unlock()
	default:
		n := s.counter.Add(1) - 1
		idx = int(n % uint64(len(s.rows)))
	}

	row := make(map[string]any, len(s.rows[idx]))
	for field, value := range s.rows[idx] {
		row[field] = value
	}
	return row
}

// Seed copies the next row's fields into vars.
func (s *Source) Seed(vars map[string]any) {
	for field, value := range s.Next() {
		vars[field] = value
	}
}

// loadCSV reads all records. With field names given, every record is a
// data row and columns map to the names positionally; otherwise the
// first record names the columns.
func loadCSV(path string, fields []string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		if len(records) < 2 {
			return nil, fmt.Errorf("need a header row and at least one data row")
		}
		fields = records[0]
		records = records[1:]
	}

	rows := make([]map[string]any, 0, len(records))
	for _, record := range records {
		row := make(map[string]any, len(fields))
		for i, field := range fields {
			if i < len(record) {
				row[field] = record[i]
			} else {
				row[field] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// loadJSON reads an array of objects.
func loadJSON(path string) ([]map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("expected an array of objects: %w", err)
	}
	return rows, nil
}

// Sources is the set of payload files a script declares.
type Sources []*Source

// LoadAll loads every payload block, resolving relative paths against
// baseDir.
func LoadAll(list []config.PayloadSettings, baseDir string) (Sources, error) {
	sources := make(Sources, 0, len(list))
	for _, p := range list {
		src, err := Load(p, baseDir)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// Seed deals one row from every source into vars.
func (s Sources) Seed(vars map[string]any) {
	for _, src := range s {
		src.Seed(vars)
	}
}
