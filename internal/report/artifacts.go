package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coverbeam/coverbeam/internal/domain"
)

// Artifact file names within the output directory.
const (
	TestDetailsFile    = "test-details.json"
	TestExecutionsFile = "test-executions.json"
)

// DirWriter persists the run-level artifacts into one output directory.
type DirWriter struct {
	Dir string
}

// WriteTestDetails writes the discovered-test details array.
func (w DirWriter) WriteTestDetails(details []domain.TestDetail) error {
	if details == nil {
		details = []domain.TestDetail{}
	}
	return writeJSON(filepath.Join(w.Dir, TestDetailsFile), details)
}

// WriteTestExecutions writes the executed-test results array.
func (w DirWriter) WriteTestExecutions(executions []domain.Execution) error {
	if executions == nil {
		executions = []domain.Execution{}
	}
	return writeJSON(filepath.Join(w.Dir, TestExecutionsFile), executions)
}

// ExecDataStore persists raw engine artifacts (exec-data dumps) next to
// the reports, for later offline conversion.
type ExecDataStore struct {
	Dir string
}

func (s ExecDataStore) Put(name string, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(s.Dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("store exec data %s: %w", name, err)
	}
	return nil
}

// EngineDirs hands each engine its own subdirectory under the output
// root.
type EngineDirs struct {
	Root string
}

func (d EngineDirs) OutputDir(engineID string) (string, error) {
	dir := filepath.Join(d.Root, "engines", engineID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", err
	}
	return dir, nil
}

// WriteExecData persists a slice of test coverage as an exec-data file
// consumable by the convert command.
func WriteExecData(path string, tests []domain.TestCoverage) error {
	return writeJSON(path, tests)
}

// ReadExecData loads an exec-data file written by WriteExecData or by a
// recording endpoint.
func ReadExecData(path string) ([]domain.TestCoverage, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tests []domain.TestCoverage
	if err := json.Unmarshal(raw, &tests); err != nil {
		return nil, fmt.Errorf("parse exec data %s: %w", path, err)
	}
	return tests, nil
}
