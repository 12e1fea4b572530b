package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads the JSON document at path into v. A missing file is not an
// error: the caller starts from its zero state.
func Load(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode store %s: %w", path, err)
	}
	return nil
}

// Save serializes v and writes it with write-to-temp-then-rename so a
// crash mid-write cannot corrupt the document.
func Save(path string, v interface{}) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store %s: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write store %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace store %s: %w", path, err)
	}
	return nil
}
