package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadSuite loads every *.yaml scenario in dir, sorted by file name.
// Scenario names must be unique since they name golden files.
func LoadSuite(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".yaml") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	seen := make(map[string]string, len(files))
	scenarios := make([]*Scenario, 0, len(files))
	for _, name := range files {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario %q already defined in %s", name, s.Name, prev)
		}
		seen[s.Name] = name
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}
