package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/cascade/internal/harness"
	"github.com/roach88/cascade/internal/ir"
)

// LoadResult holds the callbacks compiled from a spec path.
type LoadResult struct {
	Specs []ir.CallbackSpec
	Files []string
}

// LoadError is a spec loading failure with a CLI error code.
type LoadError struct {
	Code    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// LoadSpecs compiles a single .cue file, or every .cue file under a
// directory in lexical path order.
func LoadSpecs(path string) (*LoadResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("specs not found: %s", path), Err: err}
	}

	files := []string{path}
	if info.IsDir() {
		files, err = FindCUEFiles(path)
		if err != nil {
			return nil, &LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err), Err: err}
		}
		if len(files) == 0 {
			return nil, &LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", path)}
		}
	}

	specs, err := harness.LoadSpecs(files)
	if err != nil {
		return nil, &LoadError{Code: ErrCodeCompile, Message: err.Error(), Err: err}
	}
	return &LoadResult{Specs: specs, Files: files}, nil
}

// FindCUEFiles returns every .cue file under dir, skipping hidden
// directories.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// loadErrorCode extracts the CLI code from a loading error.
func loadErrorCode(err error) string {
	var le *LoadError
	if errors.As(err, &le) {
		return le.Code
	}
	return ErrCodeGeneric
}
