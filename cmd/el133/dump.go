package main

import (
	"fmt"
	"os"
	"path/filepath"

	"el133/internal/panel"
)

// dumpArtifacts writes the wire payloads of the current frame and the PNG
// preview of the last commit into dir.
func dumpArtifacts(dir string, p *panel.Panel) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	a, b, err := p.Payloads()
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{"a.bin", a},
		{"b.bin", b},
		{"preview.png", p.Preview()},
	}
	for _, f := range files {
		if f.data == nil {
			continue
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), f.data, 0o644); err != nil {
			return fmt.Errorf("dump: %w", err)
		}
	}
	return nil
}
