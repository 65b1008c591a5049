package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const (
	originalCalc = `def total(items):
    subtotal = sum(items)
    tax = subtotal * 0.2
    return subtotal + tax
`
	elidedCalc = `def total(items):
    # ... existing code ...
`
)

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(context.Background(), args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestMerge(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	oldPath := writeTestFile(t, dir, "old/calc.py", originalCalc)
	newPath := writeTestFile(t, dir, "new/calc.py", elidedCalc)

	out, stderr, err := runCLI(t, "merge", oldPath, newPath)
	if err != nil {
		t.Fatalf("merge: %v\nstderr: %s", err, stderr)
	}
	if out != originalCalc {
		t.Errorf("merged text:\n%s\nwant:\n%s", out, originalCalc)
	}
	if !strings.Contains(stderr, "restored=1") {
		t.Errorf("expected a log line with the restored count, got %q", stderr)
	}
}

func TestMergeOutputFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	oldPath := writeTestFile(t, dir, "old/calc.py", originalCalc)
	newPath := writeTestFile(t, dir, "new/calc.py", elidedCalc)
	outPath := filepath.Join(dir, "merged.py")

	out, _, err := runCLI(t, "merge", "-o", outPath, oldPath, newPath)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out != "" {
		t.Errorf("stdout should be empty with -o, got %q", out)
	}
	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != originalCalc {
		t.Errorf("merged file:\n%s", data)
	}
}

func TestMergeMissingFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	newPath := writeTestFile(t, dir, "calc.py", elidedCalc)

	if _, _, err := runCLI(t, "merge", filepath.Join(dir, "nope.py"), newPath); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestMergeArgs(t *testing.T) {
	t.Parallel()
	if _, _, err := runCLI(t, "merge", "only-one.py"); err == nil {
		t.Error("expected an argument count error")
	}
}

func TestMap(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	oldPath := writeTestFile(t, dir, "old/store.py", "def load(key):\n    return 1\n\n\ndef gone():\n    pass\n")
	newPath := writeTestFile(t, dir, "new/store.py", "async def load(key):\n    return 1\n")

	out, stderr, err := runCLI(t, "map", oldPath, newPath)
	if err != nil {
		t.Fatalf("map: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"mappings[2]{name,before,after,async,duplicates}:",
		"  load,1,1,became,1",
		`  gone,5,"","",1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestMapJSON(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	oldPath := writeTestFile(t, dir, "old/store.py", "def load(key):\n    return 1\n")
	newPath := writeTestFile(t, dir, "new/store.py", "async def load(key):\n    return 1\n")

	out, _, err := runCLI(t, "--format", "json", "map", oldPath, newPath)
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	var doc struct {
		File     string              `json:"file"`
		Mappings []map[string]string `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(out), &doc); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, out)
	}
	if len(doc.Mappings) != 1 || doc.Mappings[0]["name"] != "load" || doc.Mappings[0]["async"] != "became" {
		t.Errorf("unexpected mappings: %+v", doc.Mappings)
	}
	if !strings.HasSuffix(doc.File, "new/store.py") {
		t.Errorf("file = %q", doc.File)
	}
}

func TestMapWithoutGrammar(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	oldPath := writeTestFile(t, dir, "a.txt", "a\n")
	newPath := writeTestFile(t, dir, "b.txt", "b\n")

	_, _, err := runCLI(t, "map", oldPath, newPath)
	if err == nil || !strings.Contains(err.Error(), "no grammar") {
		t.Errorf("expected a no-grammar error, got %v", err)
	}
}

func TestReconcileWrite(t *testing.T) {
	t.Parallel()
	before, after := t.TempDir(), t.TempDir()
	writeTestFile(t, before, "shop/calc.py", originalCalc)
	afterPath := writeTestFile(t, after, "shop/calc.py", elidedCalc)
	writeTestFile(t, before, "shop/same.py", "x = 1\n")
	writeTestFile(t, after, "shop/same.py", "x = 1\n")

	out, stderr, err := runCLI(t, "reconcile", "--write", before, after)
	if err != nil {
		t.Fatalf("reconcile: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(out, "files[2]{path,restored,unmapped,newly_async,error}:") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, `  shop/calc.py,1,0,0,""`) {
		t.Errorf("calc.py row missing:\n%s", out)
	}

	data, err := os.ReadFile(afterPath)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != originalCalc {
		t.Errorf("--write did not restore the file:\n%s", data)
	}
}

func TestReconcileDryByDefault(t *testing.T) {
	t.Parallel()
	before, after := t.TempDir(), t.TempDir()
	writeTestFile(t, before, "calc.py", originalCalc)
	afterPath := writeTestFile(t, after, "calc.py", elidedCalc)

	if _, _, err := runCLI(t, "reconcile", "--calls", before, after); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	data, _ := os.ReadFile(afterPath)
	if string(data) != elidedCalc {
		t.Error("reconcile without --write must not modify files")
	}
}

func TestAttribute(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	codebase := filepath.Join(dir, "app")
	writeTestFile(t, codebase, "shop/service.py", `from shop import util


def checkout(cart):
    return util.total(cart)
`)
	writeTestFile(t, codebase, "shop/util.py", `def total(cart):
    return sum(cart)
`)
	writeTestFile(t, codebase, "tests/test_service.py", `from shop.service import checkout


def test_checkout():
    assert checkout([1, 2]) == 3


def test_other():
    assert True
`)
	beforeReport := writeTestFile(t, dir, "before.json", `{"tests": [
  {"nodeid": "tests/test_service.py::test_checkout", "lineno": 3, "outcome": "passed"},
  {"nodeid": "tests/test_service.py::test_other", "lineno": 7, "outcome": "passed"}
]}`)
	afterReport := writeTestFile(t, dir, "after.json", `{"tests": [
  {"nodeid": "tests/test_service.py::test_checkout", "lineno": 3, "outcome": "failed"},
  {"nodeid": "tests/test_service.py::test_other", "lineno": 7, "outcome": "passed"}
]}`)

	out, stderr, err := runCLI(t, "attribute", "--codebase", codebase, beforeReport, afterReport)
	if err != nil {
		t.Fatalf("attribute: %v\nstderr: %s", err, stderr)
	}
	for _, want := range []string{
		"regressions[1]{test,before,after}:",
		`  "tests/test_service.py::test_checkout",passed,failed`,
		"shop/service.py,1,",
		"shop/util.py,1,",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "test_other") {
		t.Errorf("a test that still passes was reported:\n%s", out)
	}
}

func TestAttributeRequiresCodebase(t *testing.T) {
	t.Parallel()
	_, _, err := runCLI(t, "attribute", "a.json", "b.json")
	if err == nil || !strings.Contains(err.Error(), "--codebase") {
		t.Errorf("expected a --codebase error, got %v", err)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()
	out, _, err := runCLI(t, "--version")
	if err != nil {
		t.Fatal(err)
	}
	if out != "mendpatch dev\n" {
		t.Errorf("version output = %q", out)
	}
}

func TestUnsupportedLanguage(t *testing.T) {
	t.Parallel()
	cfgPath := writeTestFile(t, t.TempDir(), "m.yaml", "languages: [cobol]\n")
	dir := t.TempDir()

	_, _, err := runCLI(t, "--config", cfgPath, "reconcile", dir, dir)
	if err == nil || !strings.Contains(err.Error(), `unsupported language "cobol"`) {
		t.Errorf("expected an unsupported language error, got %v", err)
	}
}

func TestInvalidFormatFlag(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	_, _, err := runCLI(t, "--format", "xml", "reconcile", dir, dir)
	if err == nil || !strings.Contains(err.Error(), "format") {
		t.Errorf("expected a format error, got %v", err)
	}
}
