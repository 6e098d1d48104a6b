package correlate

import (
	"encoding/json"
	"fmt"
	"os"
)

// fixesFile is the on-disk shape of fixes.json.
type fixesFile struct {
	Fixes []CategoryFixes `json:"fixes"`
}

// WriteFixes persists correlation results as fixes.json.
func WriteFixes(path string, fixes []CategoryFixes) error {
	if fixes == nil {
		fixes = []CategoryFixes{}
	}
	data, err := json.MarshalIndent(fixesFile{Fixes: fixes}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal fixes: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("write fixes: %w", err)
	}
	return nil
}

// LoadFixes reads a fixes.json written by a previous invocation. A missing
// file is not an error: correlation is optional, so the caller gets an
// empty set.
func LoadFixes(path string) ([]CategoryFixes, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read fixes: %w", err)
	}
	var f fixesFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse fixes %s: %w", path, err)
	}
	return f.Fixes, nil
}
