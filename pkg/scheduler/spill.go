package scheduler

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"

	"github.com/Sumatoshi-tech/deltacov/pkg/summary"
)

// spillRecord is the unit a worker hands its parent: the task identity plus
// its fully rolled-up summary. Communication is one-way through the file,
// so a faulty worker cannot corrupt the parent's state.
type spillRecord struct {
	TaskID  int
	Name    string
	Kind    summary.NodeKind
	Summary *summary.Summary
}

// spillPath names the result file of one task inside the temp directory.
func spillPath(tmpDir string, taskID int) string {
	return filepath.Join(tmpDir, fmt.Sprintf("dumper_%d", taskID))
}

// writeSpill serializes a task result as an lz4-framed gob blob.
func writeSpill(tmpDir string, rec *spillRecord) error {
	f, err := os.Create(spillPath(tmpDir, rec.TaskID))
	if err != nil {
		return fmt.Errorf("create spill for task %d: %w", rec.TaskID, err)
	}

	zw := lz4.NewWriter(f)

	if err := gob.NewEncoder(zw).Encode(rec); err != nil {
		f.Close()

		return fmt.Errorf("encode spill for task %d: %w", rec.TaskID, err)
	}

	if err := zw.Close(); err != nil {
		f.Close()

		return fmt.Errorf("flush spill for task %d: %w", rec.TaskID, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close spill for task %d: %w", rec.TaskID, err)
	}

	return nil
}

// readSpill deserializes a child result.
func readSpill(tmpDir string, taskID int) (*spillRecord, error) {
	f, err := os.Open(spillPath(tmpDir, taskID))
	if err != nil {
		return nil, fmt.Errorf("open spill for task %d: %w", taskID, err)
	}
	defer f.Close()

	var rec spillRecord

	if err := gob.NewDecoder(lz4.NewReader(f)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode spill for task %d: %w", taskID, err)
	}

	return &rec, nil
}

// removeSpill discards a consumed result file.
func removeSpill(tmpDir string, taskID int) {
	_ = os.Remove(spillPath(tmpDir, taskID))
}
