// Package diagnostics holds the status vocabulary and the error taxonomy
// shared by every pipeline stage. Diagnostics are reported to the caller and
// never feed back into processing.
package diagnostics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Status is the outcome of a stage
type Status string

const (
	StatusSuccess           Status = "success"
	StatusAbstained         Status = "abstained"
	StatusFailed            Status = "failed"
	StatusAbstainedOrFailed Status = "abstained_or_failed"
)

// Warnings is an ordered list of human-readable warnings.
// It marshals as [] rather than null when empty.
type Warnings []string

func (w *Warnings) Add(format string, args ...any) {
	*w = append(*w, fmt.Sprintf(format, args...))
}

func (w Warnings) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]string(w))
}

// WriteJSON writes v as indented JSON through a temp file and rename so a
// reader never sees a half-written report.
func WriteJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close %s: %w", tmp, err)
	}

	return os.Rename(tmp, path)
}

// ReadJSON decodes the JSON file at path into v, returning a
// ResourceNotFoundError when the file does not exist.
func ReadJSON(path, kind string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ResourceNotFoundError{Kind: kind, Path: path}
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
