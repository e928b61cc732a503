// Package testutil provides testing utilities for golden tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"grantcsv/internal/flatten"
)

// FixtureContext holds information about a loaded fixture.
type FixtureContext struct {
	// Name is the fixture directory name (e.g., "community_fund")
	Name string

	// Root is the absolute path to the fixture directory
	Root string

	// InputPath is the submissions document the fixture feeds in
	InputPath string

	// ExpectedDir is the path to the expected/ directory
	ExpectedDir string
}

// LoadFixture loads a fixture from testdata/fixtures, failing the test on
// error.
func LoadFixture(t *testing.T, name string) *FixtureContext {
	t.Helper()

	fixtureDir := filepath.Join(getFixturesRoot(t), name)
	if _, err := os.Stat(fixtureDir); os.IsNotExist(err) {
		t.Fatalf("Fixture directory not found: %s", fixtureDir)
	}

	inputPath := filepath.Join(fixtureDir, "input.json")
	if _, err := os.Stat(inputPath); os.IsNotExist(err) {
		t.Fatalf("Fixture input not found: %s", inputPath)
	}

	return &FixtureContext{
		Name:        name,
		Root:        fixtureDir,
		InputPath:   inputPath,
		ExpectedDir: filepath.Join(fixtureDir, "expected"),
	}
}

// Document decodes the fixture input.
func (f *FixtureContext) Document(t *testing.T) flatten.Value {
	t.Helper()

	data, err := os.ReadFile(f.InputPath)
	if err != nil {
		t.Fatalf("Failed to read fixture input: %v", err)
	}
	doc, err := flatten.Decode(data)
	if err != nil {
		t.Fatalf("Fixture input %s is not valid JSON: %v", f.InputPath, err)
	}
	return doc
}

// ExpectedPath returns the path to a golden CSV within the fixture.
// The name should not include the .csv extension.
func (f *FixtureContext) ExpectedPath(name string) string {
	return filepath.Join(f.ExpectedDir, name+".csv")
}

// getFixturesRoot returns the absolute path to testdata/fixtures/.
func getFixturesRoot(t *testing.T) string {
	t.Helper()

	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("Failed to get caller information")
	}

	// Navigate from internal/testutil to project root
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
	fixturesRoot := filepath.Join(projectRoot, "testdata", "fixtures")

	if _, err := os.Stat(fixturesRoot); os.IsNotExist(err) {
		t.Fatalf("Fixtures root not found: %s", fixturesRoot)
	}

	return fixturesRoot
}

// AvailableFixtures returns the fixture names that have an input document.
func AvailableFixtures(t *testing.T) []string {
	t.Helper()

	root := getFixturesRoot(t)
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("Failed to read fixtures directory: %v", err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() && !isHiddenDir(entry.Name()) {
			if _, err := os.Stat(filepath.Join(root, entry.Name(), "input.json")); err == nil {
				names = append(names, entry.Name())
			}
		}
	}

	return names
}

func isHiddenDir(name string) bool {
	return len(name) > 0 && name[0] == '.'
}
