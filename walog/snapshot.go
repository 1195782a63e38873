package walog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveSnapshot atomically (write-temp-then-rename) writes payload as JSON to
// path, per spec §4.1: "writes a snapshot of the entire in-memory metadata to
// disk atomically".
func SaveSnapshot(path string, payload interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("walog: creating snapshot directory: %w", err)
	}
	tmp := path + ".tmp"
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("walog: marshaling snapshot: %w", err)
	}
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("walog: creating snapshot temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("walog: writing snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("walog: fsyncing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("walog: renaming snapshot into place: %w", err)
	}
	return nil
}

// LoadSnapshot reads the snapshot at path into out. It returns ok=false (no
// error) if no snapshot file exists yet, per spec §4.1's startup sequence:
// "load most recent snapshot (if any)".
func LoadSnapshot(path string, out interface{}) (ok bool, err error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("walog: reading snapshot: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("walog: unmarshaling snapshot: %w", err)
	}
	return true, nil
}
