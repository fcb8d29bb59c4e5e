package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

type fileFormat struct {
	Entries []Entry `json:"entries"`
}

// Save atomically writes the index as JSON to path.
func (ix *Index) Save(path string) error {
	data, err := json.MarshalIndent(fileFormat{Entries: ix.Entries()}, "", "  ")
	if err != nil {
		return fmt.Errorf("save index: marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-tmp-*")
	if err != nil {
		return fmt.Errorf("save index: tmpfile: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("save index: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save index: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("save index: rename: %w", err)
	}
	return nil
}

// Load reads an index written by Save. A missing file is an empty index.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("load index: %w", err)
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("load index: unmarshal: %w", err)
	}
	ix := New()
	for _, e := range f.Entries {
		if err := ix.Add(e); err != nil {
			return nil, fmt.Errorf("load index: %w", err)
		}
	}
	return ix, nil
}
