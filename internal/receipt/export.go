package receipt

import (
	"fmt"
	"os"
	"path/filepath"

	yamlv3 "gopkg.in/yaml.v3"

	"tbwo/internal/model"
)

// ExportYAML writes the receipt to path atomically: marshal, write to a
// temp file in the same directory, validate, rename over the target.
func ExportYAML(path string, r *model.Receipt) error {
	content, err := yamlv3.Marshal(r)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tbwo-receipt-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	var check any
	if err := yamlv3.Unmarshal(content, &check); err != nil {
		return fmt.Errorf("yaml validation failed: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("atomic rename: %w", err)
	}
	return nil
}
