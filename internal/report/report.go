// Package report loads test reports and compares two runs.
package report

import (
	"cmp"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/phobologic/mendpatch/internal/model"
)

// pytestReport is the subset of the pytest-json-report format we read.
type pytestReport struct {
	Tests []struct {
		NodeID  string `json:"nodeid"`
		LineNo  *int   `json:"lineno"`
		Outcome string `json:"outcome"`
	} `json:"tests"`
}

// LoadPytestJSON reads a pytest-json-report document.
func LoadPytestJSON(r io.Reader) ([]model.TestItem, error) {
	var rep pytestReport
	if err := json.NewDecoder(r).Decode(&rep); err != nil {
		return nil, fmt.Errorf("decoding pytest report: %w", err)
	}

	items := make([]model.TestItem, 0, len(rep.Tests))
	for _, t := range rep.Tests {
		file, fn, err := splitNodeID(t.NodeID)
		if err != nil {
			return nil, err
		}
		item := model.TestItem{
			ID:       t.NodeID,
			File:     file,
			Function: fn,
			Status:   parseOutcome(t.Outcome),
		}
		if t.LineNo != nil {
			// pytest reports 0-based lines.
			item.Line = *t.LineNo + 1
		}
		items = append(items, item)
	}
	return items, nil
}

// LoadFile reads a pytest-json-report file.
func LoadFile(path string) ([]model.TestItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	items, err := LoadPytestJSON(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return items, nil
}

// splitNodeID splits "tests/test_a.py::TestA::test_x[1]" into the file and
// the dotted function name "TestA.test_x". The parametrisation suffix stays
// part of the node id only.
func splitNodeID(id string) (file, function string, err error) {
	parts := strings.Split(id, "::")
	if len(parts) < 2 || parts[0] == "" {
		return "", "", fmt.Errorf("malformed test node id %q", id)
	}
	last := len(parts) - 1
	if i := strings.IndexByte(parts[last], '['); i >= 0 {
		parts[last] = parts[last][:i]
	}
	return parts[0], strings.Join(parts[1:], "."), nil
}

func parseOutcome(s string) model.TestStatus {
	switch strings.ToLower(s) {
	case "passed", "xpassed":
		return model.StatusPassed
	case "failed":
		return model.StatusFailed
	case "skipped", "xfailed":
		return model.StatusSkipped
	}
	return model.StatusError
}

// Compare returns the tests whose status differs between the two runs,
// sorted by test identity. Tests present in only one run are ignored.
func Compare(before, after []model.TestItem) model.TestReportDiff {
	prev := make(map[string]model.TestItem, len(before))
	for _, t := range before {
		prev[t.Key()] = t
	}

	var diff model.TestReportDiff
	for _, t := range after {
		b, ok := prev[t.Key()]
		if !ok || b.Status == t.Status {
			continue
		}
		diff = append(diff, model.TestDiffEntry{Before: b, After: t})
	}
	slices.SortFunc(diff, func(a, b model.TestDiffEntry) int {
		return cmp.Compare(a.Before.Key(), b.Before.Key())
	})
	return diff
}
