package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LoadJSON decodes the document at path. A missing or malformed document
// yields def; the returned error is non-nil only when the file exists but
// could not be read or decoded, so callers can log it.
func LoadJSON[T any](path string, def T) (T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return def, nil
		}
		return def, err
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return def, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return v, nil
}

// SaveJSON rewrites the document at path. The data goes to a temp file in the
// same directory which is synced and renamed over the target, so a reader
// sees either the old or the new document.
func SaveJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
