package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LoadResult holds accepted sources plus the files that were rejected.
type LoadResult struct {
	Sources  []RawSource
	Rejected []*SourceError
}

// Counts returns how many accepted sources are raw and pre-analyzed.
func (r LoadResult) Counts() (raw, preAnalyzed int) {
	for _, src := range r.Sources {
		if src.PreAnalyzed {
			preAnalyzed++
		} else {
			raw++
		}
	}
	return raw, preAnalyzed
}

// LoadPaths ingests JSON files. Directories are walked for *.json files.
// Unreadable or unrecognized files are reported in Rejected; files whose
// base name was already accepted are skipped as duplicates.
func LoadPaths(paths []string) (LoadResult, error) {
	if len(paths) == 0 {
		return LoadResult{}, errors.New("at least one input path is required")
	}

	files := make([]string, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			return LoadResult{}, fmt.Errorf("stat %q: %w", path, err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := listJSONFiles(path)
		if err != nil {
			return LoadResult{}, err
		}
		files = append(files, found...)
	}

	var result LoadResult
	seen := make(map[string]struct{}, len(files))
	for _, path := range files {
		name := filepath.Base(path)
		if _, ok := seen[name]; ok {
			result.Rejected = append(result.Rejected, &SourceError{Name: name, Err: ErrDuplicateSource})
			continue
		}

		if !strings.EqualFold(filepath.Ext(path), ".json") {
			result.Rejected = append(result.Rejected, &SourceError{Name: name, Err: errors.New("not a json file")})
			continue
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			result.Rejected = append(result.Rejected, &SourceError{Name: name, Err: fmt.Errorf("read: %w", err)})
			continue
		}
		src, err := Ingest(name, raw)
		if err != nil {
			var srcErr *SourceError
			if !errors.As(err, &srcErr) {
				srcErr = &SourceError{Name: name, Err: err}
			}
			result.Rejected = append(result.Rejected, srcErr)
			continue
		}
		seen[name] = struct{}{}
		result.Sources = append(result.Sources, src)
	}
	return result, nil
}

func listJSONFiles(root string) ([]string, error) {
	paths := make([]string, 0, 32)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", root, err)
	}

	sort.Strings(paths)
	return paths, nil
}
