package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/arroschaves/brandaocontador-e2e/internal/scenario"
)

// DefaultScenarioDir is searched when no paths are given.
const DefaultScenarioDir = "scenarios"

// LoadMode controls how errors are handled during scenario loading.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Selection narrows the loaded scenarios.
type Selection struct {
	// Filter is a path.Match glob applied to scenario names.
	Filter string
	// Tags keeps scenarios carrying at least one of these tags.
	Tags []string
}

func (s Selection) match(sc *scenario.Scenario) (bool, error) {
	if s.Filter != "" {
		ok, err := path.Match(s.Filter, sc.Name)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if len(s.Tags) == 0 {
		return true, nil
	}
	for _, tag := range s.Tags {
		if sc.HasTag(tag) {
			return true, nil
		}
	}
	return false, nil
}

// LoadResult contains the scenarios loaded from a set of paths.
type LoadResult struct {
	Scenarios []*scenario.Scenario
	FileCount int // Number of scenario files found
}

// LoadError represents an error that occurred during scenario loading.
type LoadError struct {
	Code    string
	Message string
	Path    string // Scenario file, if known
}

func (e *LoadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s: %s", e.Path, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadScenarios loads every scenario file under paths (files or
// directories), sorted by file path, and applies sel.
// If mode is LoadModeFailFast, returns on first error.
// If mode is LoadModeCollectAll, collects all errors.
func LoadScenarios(paths []string, mode LoadMode, sel Selection) (*LoadResult, []error) {
	if len(paths) == 0 {
		paths = []string{DefaultScenarioDir}
	}

	var files []string
	for _, p := range paths {
		found, err := FindScenarioFiles(p)
		if err != nil {
			return nil, []error{err}
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no scenario files found in %v", paths)}}
	}
	sort.Strings(files)

	if sel.Filter != "" {
		if _, err := path.Match(sel.Filter, ""); err != nil {
			return nil, []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("invalid filter %q: %v", sel.Filter, err)}}
		}
	}

	var errs []error
	result := &LoadResult{FileCount: len(files)}
	seen := make(map[string]string)
	for _, file := range files {
		sc, err := scenario.LoadScenario(file)
		if err != nil {
			errs = append(errs, &LoadError{Code: ErrCodeInvalidScenario, Message: err.Error(), Path: file})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		if prev, ok := seen[sc.Name]; ok {
			errs = append(errs, &LoadError{
				Code:    ErrCodeDuplicateName,
				Message: fmt.Sprintf("scenario %q already defined in %s", sc.Name, prev),
				Path:    file,
			})
			if mode == LoadModeFailFast {
				return result, errs
			}
			continue
		}
		seen[sc.Name] = file

		if ok, _ := sel.match(sc); ok {
			result.Scenarios = append(result.Scenarios, sc)
		}
	}
	return result, errs
}

// FindScenarioFiles returns the .yaml/.yml files under root. A file root is
// returned as is.
func FindScenarioFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("scenario path not found: %s", root)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing scenario path: %v", err)}
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch filepath.Ext(p) {
		case ".yaml", ".yml":
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}
	}
	return files, nil
}

// Error code constants - unified across all CLI commands.
const (
	ErrCodeGeneric         = "E001" // Generic/unknown error
	ErrCodeScanError       = "E002" // Directory scan error
	ErrCodeNoFiles         = "E003" // No scenario files found
	ErrCodeInvalidScenario = "E004" // Scenario failed to parse or validate
	ErrCodeNotFound        = "E005" // Path not found
	ErrCodeDuplicateName   = "E006" // Two files define the same scenario
	ErrCodeWriteFailed     = "E007" // File write error
	ErrCodeConfig          = "E008" // Invalid configuration
	ErrCodeStore           = "E009" // Result store error
	ErrCodeNoScenarios     = "E010" // Selection matched nothing
)
