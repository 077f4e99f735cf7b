package config

import (
	"errors"
	"io/fs"
	"os"
)

var (
	// ErrNotDirectory is wrapped by a PathError when a directory field names a file.
	ErrNotDirectory = errors.New("not a directory")
	// ErrNotRegularFile is wrapped by a PathError when a model field names a directory.
	ErrNotRegularFile = errors.New("not a regular file")
)

// CheckPaths verifies that every path the run will read exists and has the
// expected kind. model_c is checked only when the merge mode reads it and
// scorer_model_dir only when the scorer loads a local model file.
func CheckPaths(c RunConfiguration) error {
	var errs []error
	check := func(field, path string, wantDir bool) {
		info, err := os.Stat(path)
		switch {
		case err != nil:
			if errors.Is(err, fs.ErrNotExist) {
				err = fs.ErrNotExist
			}
			errs = append(errs, &PathError{Field: field, Path: path, Err: err})
		case wantDir && !info.IsDir():
			errs = append(errs, &PathError{Field: field, Path: path, Err: ErrNotDirectory})
		case !wantDir && !info.Mode().IsRegular():
			errs = append(errs, &PathError{Field: field, Path: path, Err: ErrNotRegularFile})
		}
	}

	check("model_a", c.ModelA, false)
	check("model_b", c.ModelB, false)
	if c.MergeMode.NeedsModelC() {
		check("model_c", c.ModelC, false)
	}
	if c.WildcardsDir != "" {
		check("wildcards_dir", c.WildcardsDir, true)
	}
	if c.ScorerMethod.UsesModelFile() {
		check("scorer_model_dir", c.ScorerModelDir, true)
	}

	return errors.Join(errs...)
}
