package persistance

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	roaring "github.com/RoaringBitmap/roaring/roaring64"

	apperrors "github.com/RaelFilh96/Analise-de-Aderencia/errors"
	"github.com/RaelFilh96/Analise-de-Aderencia/terminal"
)

const checkpointSuffix = ".checkpoint.json"

// Checkpoint is the resumable state of one extraction.
type Checkpoint struct {
	ExtractID  string
	Operations []terminal.Deal
	// LastDate is the end of the last fully processed batch window.
	LastDate  time.Time
	TotalOps  int
	Timestamp time.Time
	// StartDate is the start of the originally requested range; batch windows
	// are aligned to it.
	StartDate time.Time
	// Windows holds the indices of batch windows already folded into Operations.
	Windows *roaring.Bitmap
}

type checkpointFile struct {
	ExtractID        string          `json:"extract_id"`
	Operations       []terminal.Deal `json:"operations"`
	LastDate         string          `json:"last_date"`
	TotalOps         int             `json:"total_ops"`
	Timestamp        string          `json:"timestamp"`
	StartDate        string          `json:"start_date,omitempty"`
	CompletedWindows []byte          `json:"completed_windows,omitempty"`
}

func (c *Checkpoint) Serialize() ([]byte, error) {
	f := checkpointFile{
		ExtractID:  c.ExtractID,
		Operations: c.Operations,
		LastDate:   FormatTime(c.LastDate),
		TotalOps:   c.TotalOps,
		Timestamp:  FormatTime(c.Timestamp),
	}
	if f.Operations == nil {
		f.Operations = []terminal.Deal{}
	}
	if !c.StartDate.IsZero() {
		f.StartDate = FormatTime(c.StartDate)
	}
	if c.Windows != nil && !c.Windows.IsEmpty() {
		b, err := c.Windows.MarshalBinary()
		if err != nil {
			return nil, err
		}
		f.CompletedWindows = b
	}
	return json.Marshal(f)
}

func (c *Checkpoint) Deserialize(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var f checkpointFile
	if err := dec.Decode(&f); err != nil {
		return err
	}
	if f.ExtractID == "" {
		return fmt.Errorf("checkpoint has no extract_id")
	}
	lastDate, err := ParseTime(f.LastDate)
	if err != nil {
		return fmt.Errorf("checkpoint last_date: %w", err)
	}

	c.ExtractID = f.ExtractID
	c.Operations = f.Operations
	c.LastDate = lastDate
	c.TotalOps = f.TotalOps
	c.Timestamp, _ = ParseTime(f.Timestamp)
	c.StartDate = time.Time{}
	if f.StartDate != "" {
		if c.StartDate, err = ParseTime(f.StartDate); err != nil {
			return fmt.Errorf("checkpoint start_date: %w", err)
		}
	}
	c.Windows = roaring.New()
	if len(f.CompletedWindows) > 0 {
		if err := c.Windows.UnmarshalBinary(f.CompletedWindows); err != nil {
			return fmt.Errorf("checkpoint completed_windows: %w", err)
		}
	}
	return nil
}

// CheckpointStore keeps one checkpoint file per extraction under dir.
type CheckpointStore struct {
	dir string
}

func NewCheckpointStore(dir string) *CheckpointStore {
	return &CheckpointStore{dir: dir}
}

func (s *CheckpointStore) Path(id string) string {
	return filepath.Join(s.dir, id+checkpointSuffix)
}

func (s *CheckpointStore) Save(cp *Checkpoint) error {
	data, err := cp.Serialize()
	if err != nil {
		return apperrors.Wrap(apperrors.CheckpointIOError, "encode checkpoint "+cp.ExtractID, err)
	}
	if err := WriteFileAtomic(s.Path(cp.ExtractID), data, 0644); err != nil {
		return apperrors.Wrap(apperrors.CheckpointIOError, "write checkpoint "+cp.ExtractID, err)
	}
	log.Debugf("Checkpoint %s saved: %d operations up to %s", cp.ExtractID, len(cp.Operations), FormatTime(cp.LastDate))
	return nil
}

// Load returns the checkpoint for id, or nil with a nil error when there is none.
func (s *CheckpointStore) Load(id string) (*Checkpoint, error) {
	data, err := os.ReadFile(s.Path(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CheckpointIOError, "read checkpoint "+id, err)
	}
	var cp Checkpoint
	if err := cp.Deserialize(data); err != nil {
		return nil, apperrors.Wrap(apperrors.CheckpointIOError, "decode checkpoint "+id, err)
	}
	return &cp, nil
}

// Delete removes the checkpoint for id. A missing checkpoint is not an error.
func (s *CheckpointStore) Delete(id string) error {
	err := os.Remove(s.Path(id))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return apperrors.Wrap(apperrors.CheckpointIOError, "delete checkpoint "+id, err)
	}
	return nil
}
