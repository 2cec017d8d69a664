// Package migrate discovers and applies migration files: raw SQL applied
// verbatim, and YAML documents compiled through the migration DSL. Applied
// files are recorded with their checksum so a changed historical file is
// detected instead of silently re-run.
package migrate

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
)

// Kind is the format of one migration file.
type Kind string

const (
	KindSQL  Kind = "sql"
	KindYAML Kind = "yaml"
)

// File is one discovered migration, ordered by Number.
type File struct {
	Number   int
	Name     string
	Kind     Kind
	Path     string
	Contents []byte
	Checksum string
}

var fileNamePattern = regexp.MustCompile(`^(\d+)\.(.+)\.(sql|yaml|yml)$`)

// Scan reads every migration file directly under dir, in ascending number
// order. Files not matching <number>.<name>.<sql|yaml|yml> are ignored;
// two files sharing a number are an error.
func Scan(dir string) ([]File, error) {
	return ScanFS(os.DirFS(dir), dir)
}

// ScanFS is Scan over an fs.FS root, which the tests use to feed in-memory
// trees. label names the source in error messages.
func ScanFS(fsys fs.FS, label string) ([]File, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migration directory %s: %w", label, err)
	}

	byNumber := map[int]string{}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := fileNamePattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
		}
		if prev, ok := byNumber[number]; ok {
			return nil, fmt.Errorf("migration number %d is used by both %s and %s", number, prev, entry.Name())
		}
		byNumber[number] = entry.Name()

		contents, err := fs.ReadFile(fsys, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		kind := KindSQL
		if match[3] != "sql" {
			kind = KindYAML
		}
		sum := sha256.Sum256(contents)
		files = append(files, File{
			Number:   number,
			Name:     match[2],
			Kind:     kind,
			Path:     entry.Name(),
			Contents: contents,
			Checksum: hex.EncodeToString(sum[:]),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Number < files[j].Number })
	return files, nil
}
