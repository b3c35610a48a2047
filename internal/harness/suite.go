package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// SuiteFailure represents one failed scenario.
type SuiteFailure struct {
	ScenarioPath string   `json:"scenario_path"`
	Errors       []string `json:"errors"`
}

// FindScenarios returns the .yaml and .yml files under dir in lexical
// order. A non-empty filter is a glob matched against the file name
// without its extension.
func FindScenarios(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	return files, err
}

// RunSuite loads and runs every scenario under dir.
func RunSuite(ctx context.Context, dir, filter string) (*SuiteResult, error) {
	paths, err := FindScenarios(dir, filter)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{Total: len(paths)}
	for _, path := range paths {
		errs := runOne(ctx, path)
		if len(errs) == 0 {
			result.Passed++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, SuiteFailure{ScenarioPath: path, Errors: errs})
	}
	return result, nil
}

func runOne(ctx context.Context, path string) []string {
	scenario, err := LoadScenario(path)
	if err != nil {
		return []string{fmt.Sprintf("failed to load scenario: %v", err)}
	}
	res, err := Run(ctx, scenario)
	if err != nil {
		return []string{fmt.Sprintf("scenario execution failed: %v", err)}
	}
	return res.Errors
}
