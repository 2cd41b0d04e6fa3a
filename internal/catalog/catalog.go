// Package catalog finds the files of one instrument filetype in a folder and
// orders them by a header sort key.
package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/fist-tools/fist/internal/instrument"
)

var (
	ErrFolderNotFound  = errors.New("folder not found")
	ErrNoFilesMatched  = errors.New("no files matched")
	ErrUnknownFiletype = errors.New("unknown filetype")
)

// HeaderReader reads one primary-header value. The bool reports whether the key exists.
type HeaderReader interface {
	HeaderValue(path, key string) (string, bool, error)
}

// KeyKind tags a resolved sort key. Kinds order as Numeric < Text < Missing.
type KeyKind int

const (
	KeyNumeric KeyKind = iota
	KeyText
	KeyMissing
)

func (k KeyKind) String() string {
	switch k {
	case KeyNumeric:
		return "numeric"
	case KeyText:
		return "text"
	}
	return "missing"
}

// SortKey is a header value resolved for ordering.
type SortKey struct {
	Kind KeyKind
	Num  float64
	Text string
}

// Missing is the key of a file whose header could not be read or lacks the keyword.
var Missing = SortKey{Kind: KeyMissing}

// ParseKey classifies raw header text: numeric if it parses as a real number,
// text otherwise.
func ParseKey(raw string) SortKey {
	if f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64); err == nil {
		return SortKey{Kind: KeyNumeric, Num: f, Text: raw}
	}
	return SortKey{Kind: KeyText, Text: raw}
}

// Less is the catalog's total order. NaN sorts after every other number.
func (k SortKey) Less(o SortKey) bool {
	if k.Kind != o.Kind {
		return k.Kind < o.Kind
	}
	switch k.Kind {
	case KeyNumeric:
		if math.IsNaN(k.Num) {
			return false
		}
		if math.IsNaN(o.Num) {
			return true
		}
		return k.Num < o.Num
	case KeyText:
		return k.Text < o.Text
	}
	return false
}

func (k SortKey) String() string {
	switch k.Kind {
	case KeyNumeric:
		return strconv.FormatFloat(k.Num, 'g', -1, 64)
	case KeyText:
		return k.Text
	}
	return ""
}

// MarshalJSON writes numbers as numbers, text as strings and missing keys as null.
func (k SortKey) MarshalJSON() ([]byte, error) {
	switch k.Kind {
	case KeyNumeric:
		if math.IsNaN(k.Num) || math.IsInf(k.Num, 0) {
			return json.Marshal(k.String())
		}
		return json.Marshal(k.Num)
	case KeyText:
		return json.Marshal(k.Text)
	}
	return []byte("null"), nil
}

// Entry is one catalog file.
type Entry struct {
	Path string  `json:"path"`
	Key  SortKey `json:"sort_key"`
}

// Name is the file's base name.
func (e Entry) Name() string {
	return filepath.Base(e.Path)
}

// CheckFolder expands a leading "~" and verifies folder is a directory.
func CheckFolder(folder string) (string, error) {
	path := expandHome(folder)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return path, fmt.Errorf("%w: %s", ErrFolderNotFound, path)
	}
	return path, nil
}

// Find returns the absolute, symlink-resolved paths of the regular files in
// folder matching any pattern of filetype, deduplicated and sorted.
func Find(folder, filetype string, profile *instrument.Profile) ([]string, error) {
	path, err := CheckFolder(folder)
	if err != nil {
		return nil, err
	}
	patterns, ok := profile.Patterns(filetype)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %s)", ErrUnknownFiletype, filetype, strings.Join(profile.FiletypeList, ", "))
	}

	seen := make(map[string]struct{})
	var files []string
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(path, pat))
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", pat, err)
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			resolved := resolve(m)
			if _, dup := seen[resolved]; dup {
				continue
			}
			seen[resolved] = struct{}{}
			files = append(files, resolved)
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files in %s", ErrNoFilesMatched, filetype, path)
	}
	sort.Strings(files)
	return files, nil
}

// Scan finds the files of filetype in folder and orders them by sortKey.
// A file whose header cannot be read is kept and sorts last.
func Scan(folder, filetype, sortKey string, profile *instrument.Profile, r HeaderReader) ([]Entry, error) {
	files, err := Find(folder, filetype, profile)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(files))
	for i, f := range files {
		entries[i] = Entry{Path: f, Key: ResolveKey(r, f, sortKey)}
	}
	Sort(entries)
	return entries, nil
}

// ResolveKey reads key from the primary header of path.
func ResolveKey(r HeaderReader, path, key string) SortKey {
	raw, ok, err := r.HeaderValue(path, key)
	if err != nil || !ok {
		return Missing
	}
	return ParseKey(raw)
}

// Sort orders entries by key. The sort is stable, so equal keys keep their
// incoming (path) order.
func Sort(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Key.Less(entries[j].Key)
	})
}

// Latest returns the index of the most recent entry: the last one with a
// resolved key, or the last entry when no key resolved. -1 for an empty catalog.
func Latest(entries []Entry) int {
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Key.Kind != KeyMissing {
			return i
		}
	}
	return len(entries) - 1
}

func resolve(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	if target, err := filepath.EvalSymlinks(abs); err == nil {
		return target
	}
	return abs
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}
