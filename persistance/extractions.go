package persistance

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

// Metadata describes a finished (or partial) extraction.
type Metadata struct {
	ExtractID       string `json:"extract_id"`
	StartDate       string `json:"start_date"`
	EndDate         string `json:"end_date,omitempty"`
	TotalOperations int    `json:"total_operations"`
	Timestamp       string `json:"timestamp"`
	Partial         bool   `json:"partial,omitempty"`
	ErrorDate       string `json:"error_date,omitempty"`
}

// ExtractionStore writes the durable artifacts of successful extractions:
// <id>_operations.csv and <id>_metadata.json.
type ExtractionStore struct {
	dir string
}

func NewExtractionStore(dir string) *ExtractionStore {
	return &ExtractionStore{dir: dir}
}

func (s *ExtractionStore) MetadataPath(id string) string {
	return filepath.Join(s.dir, id+"_metadata.json")
}

func (s *ExtractionStore) OperationsPath(id string) string {
	return filepath.Join(s.dir, id+"_operations.csv")
}

// Save writes the operations table first and the metadata last, so a
// metadata file always points at a complete operations file.
func (s *ExtractionStore) Save(meta Metadata, operations []terminal.Deal) error {
	table, err := encodeOperations(operations)
	if err != nil {
		return fmt.Errorf("encode operations %s: %w", meta.ExtractID, err)
	}
	if err := WriteFileAtomic(s.OperationsPath(meta.ExtractID), table, 0644); err != nil {
		return fmt.Errorf("write operations %s: %w", meta.ExtractID, err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	if err := WriteFileAtomic(s.MetadataPath(meta.ExtractID), data, 0644); err != nil {
		return fmt.Errorf("write metadata %s: %w", meta.ExtractID, err)
	}
	log.Infof("Extraction %s saved: %d operations", meta.ExtractID, meta.TotalOperations)
	return nil
}

// LoadMetadata returns the metadata for id, or nil with a nil error when the
// extraction never completed.
func (s *ExtractionStore) LoadMetadata(id string) (*Metadata, error) {
	data, err := os.ReadFile(s.MetadataPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("decode metadata %s: %w", id, err)
	}
	return &meta, nil
}

// operationColumns keeps the terminal's own column order and appends any
// extra field, sorted, so the header is stable across runs.
func operationColumns(operations []terminal.Deal) []string {
	present := map[string]bool{}
	for _, op := range operations {
		for k := range op {
			present[k] = true
		}
	}
	cols := make([]string, 0, len(present))
	for _, c := range terminal.DealColumns {
		if present[c] {
			cols = append(cols, c)
			delete(present, c)
		}
	}
	extra := make([]string, 0, len(present))
	for k := range present {
		extra = append(extra, k)
	}
	sort.Strings(extra)
	return append(cols, extra...)
}

func encodeOperations(operations []terminal.Deal) ([]byte, error) {
	cols := operationColumns(operations)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}
	row := make([]string, len(cols))
	for _, op := range operations {
		for i, c := range cols {
			row[i] = formatCell(op[c])
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
