// Package session holds the state of one browsing session: the file catalog,
// the selection, the view settings and the arithmetic slot. A Session is not
// safe for concurrent use; callers serialize access.
package session

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fist-tools/fist/internal/analysis"
	"github.com/fist-tools/fist/internal/catalog"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/imaging"
	"github.com/fist-tools/fist/internal/instrument"
	"github.com/fist-tools/fist/pkg/colormap"
)

// ExtCacheLimit bounds the extension cache to the first catalog entries.
const ExtCacheLimit = 100

var (
	ErrNoSelection     = errors.New("no file selected")
	ErrIndexOutOfRange = errors.New("index out of range")
	ErrUnknownPalette  = errors.New("unknown palette")
	ErrNotInCatalog    = errors.New("file not in catalog")
)

// Status messages shown to the operator.
const (
	StatusCannotLoad = "Cannot load image."
	StatusArithError = "Arithmetic error"
)

// ImageSource is the file access a session needs.
type ImageSource interface {
	catalog.HeaderReader
	LoadImage(path, extension string, source *int) (*imaging.Array, error)
	ImageExtensions(path string) ([]string, error)
	CubeDepth(path, extension string) (int, error)
	HDUNames(path string) []string
}

// Options selects what a scan looks at. Empty fields keep the current value.
type Options struct {
	Folder   string `json:"folder,omitempty"`
	Filetype string `json:"filetype,omitempty"`
	SortKey  string `json:"sort_key,omitempty"`
}

// Arithmetic is the arithmetic slot: the requested combination and, once a
// frame has been computed, its result. Array is valid only while Active.
type Arithmetic struct {
	Enabled      bool           `json:"enabled"`
	Op           imaging.Op     `json:"op"`
	File         string         `json:"file"`
	Active       bool           `json:"active"`
	HasNonFinite bool           `json:"has_non_finite"`
	Array        *imaging.Array `json:"-"`
}

// Frame is the outcome of the load, combine, scale and transform pipeline.
type Frame struct {
	Name    string
	Raw     *imaging.Array // combined, pre-scaling
	Display *imaging.Array // normalized and transformed
}

// Session is one operator's view over a folder.
type Session struct {
	profile *instrument.Profile
	src     ImageSource

	folder   string
	filetype string
	sortKey  string

	entries  []catalog.Entry
	index    map[string]int
	selected int
	extCache map[string][]string

	extension string
	source    int

	scaling   imaging.ScaleParams
	transform imaging.Transform
	palette   string
	arith     Arithmetic

	frame  *Frame
	status string
}

// New creates a session seeded from the profile defaults. No scan is performed.
func New(profile *instrument.Profile, src ImageSource, opts Options) *Session {
	s := &Session{
		profile:   profile,
		src:       src,
		folder:    profile.StartFolder,
		filetype:  profile.DefaultFiletype,
		sortKey:   profile.SortKey,
		selected:  -1,
		extCache:  make(map[string][]string),
		index:     make(map[string]int),
		scaling:   profile.Scaling,
		transform: profile.Transform,
		palette:   profile.Palette,
		arith:     Arithmetic{Op: imaging.OpSubtract},
	}
	s.apply(opts)
	return s
}

func (s *Session) apply(opts Options) {
	if opts.Folder != "" {
		s.folder = opts.Folder
	}
	if opts.Filetype != "" {
		s.filetype = opts.Filetype
	}
	if k := strings.TrimSpace(opts.SortKey); k != "" {
		s.sortKey = k
	}
}

// Profile returns the instrument profile.
func (s *Session) Profile() *instrument.Profile { return s.profile }

// Status returns the latest status line.
func (s *Session) Status() string { return s.status }

// Scan applies opts and rescans the folder. On failure the catalog keeps its
// previous content and the status line explains why.
func (s *Session) Scan(opts Options) error {
	s.apply(opts)
	entries, err := catalog.Scan(s.folder, s.filetype, s.sortKey, s.profile, s.src)
	if err != nil {
		s.status = scanStatus(err, s.folder, s.filetype)
		return err
	}

	s.replaceCatalog(entries)
	s.arith.File = ""
	s.clearArithResult()
	s.selectIndex(0)
	s.status = fmt.Sprintf("Found %d files (sorted by: %s).", len(entries), s.sortKey)
	return nil
}

func scanStatus(err error, folder, filetype string) string {
	path, _ := catalog.CheckFolder(folder)
	switch {
	case errors.Is(err, catalog.ErrFolderNotFound):
		return fmt.Sprintf("Folder not found: %s", path)
	case errors.Is(err, catalog.ErrNoFilesMatched):
		return fmt.Sprintf("No %s files in %s", filetype, path)
	}
	return err.Error()
}

func (s *Session) replaceCatalog(entries []catalog.Entry) {
	s.entries = entries
	s.index = make(map[string]int, len(entries))
	for i, e := range entries {
		s.index[e.Path] = i
	}
	s.extCache = make(map[string][]string)
	s.selected = -1
	s.frame = nil
}

// AutofetchTick rescans and jumps to the most recent file. It does nothing when
// the folder is unreadable or empty, or when the most recent file is already
// selected. It reports whether the selection moved.
func (s *Session) AutofetchTick() bool {
	entries, err := catalog.Scan(s.folder, s.filetype, s.sortKey, s.profile, s.src)
	if err != nil || len(entries) == 0 {
		return false
	}
	latest := catalog.Latest(entries)
	if cur, ok := s.Selected(); ok && cur.Path == entries[latest].Path {
		return false
	}
	s.replaceCatalog(entries)
	s.selectIndex(latest)
	return true
}

// Folder returns the scanned folder as configured.
func (s *Session) Folder() string { return s.folder }

// Filetype returns the active filetype.
func (s *Session) Filetype() string { return s.filetype }

// SortKey returns the header key used for ordering.
func (s *Session) SortKey() string { return s.sortKey }

// Entries returns a copy of the catalog.
func (s *Session) Entries() []catalog.Entry {
	return append([]catalog.Entry(nil), s.entries...)
}

// SelectedIndex returns the selected catalog index, -1 when the catalog is empty.
func (s *Session) SelectedIndex() int { return s.selected }

// Selected returns the selected entry.
func (s *Session) Selected() (catalog.Entry, bool) {
	if s.selected < 0 || s.selected >= len(s.entries) {
		return catalog.Entry{}, false
	}
	return s.entries[s.selected], true
}

// Select moves the selection to catalog index i.
func (s *Session) Select(i int) error {
	if i < 0 || i >= len(s.entries) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(s.entries))
	}
	s.selectIndex(i)
	return nil
}

// SelectPath moves the selection to the catalog entry for path.
func (s *Session) SelectPath(path string) error {
	i, ok := s.lookup(path)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotInCatalog, path)
	}
	s.selectIndex(i)
	return nil
}

func (s *Session) lookup(path string) (int, bool) {
	if i, ok := s.index[path]; ok {
		return i, true
	}
	if abs, err := filepath.Abs(path); err == nil {
		if i, ok := s.index[abs]; ok {
			return i, true
		}
		if target, err := filepath.EvalSymlinks(abs); err == nil {
			i, ok := s.index[target]
			return i, ok
		}
	}
	return 0, false
}

func (s *Session) selectIndex(i int) {
	if i < 0 || i >= len(s.entries) {
		s.selected = -1
		return
	}
	s.selected = i
	s.extension = ""
	if exts := s.ResolveExtensions(s.entries[i].Path); len(exts) > 0 {
		s.extension = exts[0]
	}
	s.source = 0
	s.frame = nil
}

// ResolveExtensions lists the image extensions of path. Results for the first
// ExtCacheLimit catalog entries are cached until the next rescan; any other
// file is scanned afresh on every call.
func (s *Session) ResolveExtensions(path string) []string {
	i, member := s.index[path]
	cacheable := member && i < ExtCacheLimit
	if cacheable {
		if exts, ok := s.extCache[path]; ok {
			return append([]string(nil), exts...)
		}
	}
	exts, err := s.src.ImageExtensions(path)
	if err != nil {
		exts = nil
	}
	if cacheable {
		s.extCache[path] = exts
	}
	return append([]string(nil), exts...)
}

// CachedExtensions reports how many files have cached extension lists.
func (s *Session) CachedExtensions() int { return len(s.extCache) }

// Extensions lists the image extensions of the selected file.
func (s *Session) Extensions() []string {
	cur, ok := s.Selected()
	if !ok {
		return nil
	}
	return s.ResolveExtensions(cur.Path)
}

// HeaderExtensions lists every HDU of the selected file for header browsing.
func (s *Session) HeaderExtensions() []string {
	cur, ok := s.Selected()
	if !ok {
		return nil
	}
	return s.src.HDUNames(cur.Path)
}

// Extension returns the selected image extension.
func (s *Session) Extension() string { return s.extension }

// View changes the extension and/or the cube source. Source is a label from
// SourceLabels; an unknown label selects plane 0.
type View struct {
	Extension *string `json:"extension,omitempty"`
	Source    *string `json:"source,omitempty"`
}

// SetView applies v to the selected file.
func (s *Session) SetView(v View) error {
	cur, ok := s.Selected()
	if !ok {
		return ErrNoSelection
	}
	if v.Extension != nil && *v.Extension != s.extension {
		found := false
		for _, e := range s.ResolveExtensions(cur.Path) {
			if e == *v.Extension {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: %q", fits.ErrExtensionNotFound, *v.Extension)
		}
		s.extension = *v.Extension
		s.source = 0
	}
	if v.Source != nil {
		s.source = s.profile.SourceIndex(*v.Source, s.cubeDepth())
	}
	s.frame = nil
	return nil
}

func (s *Session) cubeDepth() int {
	cur, ok := s.Selected()
	if !ok || s.extension == "" {
		return 0
	}
	depth, err := s.src.CubeDepth(cur.Path, s.extension)
	if err != nil {
		return 0
	}
	return depth
}

// SourceLabels names the planes of the current extension; nil unless it is a cube.
func (s *Session) SourceLabels() []string {
	depth := s.cubeDepth()
	if depth == 0 {
		return nil
	}
	return s.profile.SourceLabels(depth)
}

// Source returns the selected cube plane index.
func (s *Session) Source() int { return s.source }

// SetDisplay replaces the scaling parameters and palette.
func (s *Session) SetDisplay(p imaging.ScaleParams, palette string) error {
	st, err := imaging.ParseStretch(string(p.Stretch))
	if err != nil {
		return err
	}
	p.Stretch = st
	if err := p.Validate(); err != nil {
		return err
	}
	if palette != "" {
		if _, ok := colormap.Lookup(palette); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownPalette, palette)
		}
		s.palette = strings.ToLower(strings.TrimSpace(palette))
	}
	s.scaling = p
	s.frame = nil
	return nil
}

// Scaling returns the scaling parameters.
func (s *Session) Scaling() imaging.ScaleParams { return s.scaling }

// Palette returns the palette name.
func (s *Session) Palette() string { return s.palette }

// SetFlips sets the mirror and negative flags; the rotation is kept.
func (s *Session) SetFlips(flipX, flipY, negative bool) {
	s.transform.FlipX = flipX
	s.transform.FlipY = flipY
	s.transform.Negative = negative
	s.frame = nil
}

// Rotate adds one quarter turn.
func (s *Session) Rotate() {
	s.transform.Rotate()
	s.frame = nil
}

// Transform returns the transform state.
func (s *Session) Transform() imaging.Transform { return s.transform }

// SetArithmetic configures the combination of the selected file with file.
// An empty file (or "None") disables the combination without clearing op.
func (s *Session) SetArithmetic(enabled bool, op, file string) error {
	o := s.arith.Op
	if op != "" {
		parsed, err := imaging.ParseOp(op)
		if err != nil {
			return err
		}
		o = parsed
	}
	if file == "None" {
		file = ""
	}
	if file != "" {
		i, ok := s.lookup(file)
		if !ok {
			return fmt.Errorf("%w: %s", ErrNotInCatalog, file)
		}
		file = s.entries[i].Path
	}
	s.arith.Enabled = enabled
	s.arith.Op = o
	s.arith.File = file
	s.frame = nil
	return nil
}

// Arithmetic returns the arithmetic slot.
func (s *Session) Arithmetic() Arithmetic { return s.arith }

func (s *Session) clearArithResult() {
	s.arith.Active = false
	s.arith.Array = nil
	s.arith.HasNonFinite = false
}

// Frame returns the current frame, recomputing it when any input changed. On
// failure the previous frame is discarded and the status line says why.
func (s *Session) Frame() (*Frame, error) {
	if s.frame != nil {
		return s.frame, nil
	}
	cur, ok := s.Selected()
	if !ok {
		return nil, ErrNoSelection
	}
	if s.extension == "" {
		s.status = StatusCannotLoad
		return nil, fmt.Errorf("%s: %w", cur.Name(), fits.ErrExtensionNotFound)
	}

	var src *int
	if s.cubeDepth() > 0 {
		idx := s.source
		src = &idx
	}

	base, err := s.src.LoadImage(cur.Path, s.extension, src)
	if err != nil {
		s.status = StatusCannotLoad
		return nil, err
	}

	raw := base
	if s.arith.Enabled && s.arith.File != "" {
		other, err := s.src.LoadImage(s.arith.File, s.extension, src)
		if err != nil {
			s.status = StatusArithError
			return nil, err
		}
		combined, nonFinite, err := imaging.Combine(base, other, s.arith.Op)
		if err != nil {
			s.status = StatusArithError
			return nil, err
		}
		s.arith.Active = true
		s.arith.Array = combined
		s.arith.HasNonFinite = nonFinite
		raw = combined
	} else {
		s.clearArithResult()
	}

	display := s.transform.Apply(imaging.Normalize(raw, s.scaling))
	s.frame = &Frame{Name: cur.Name(), Raw: raw, Display: display}
	s.status = fmt.Sprintf("Read %s (%d x %d).", cur.Name(), display.Width, display.Height)
	return s.frame, nil
}

// Cut samples a line profile across the pre-scaling array.
func (s *Session) Cut(spec analysis.CutSpec, samples int) (*analysis.Cut, error) {
	f, err := s.Frame()
	if err != nil {
		return nil, err
	}
	return analysis.ExtractCut(f.Raw, spec, samples)
}

// RegionStats aggregates the pre-scaling pixels inside region.
func (s *Session) RegionStats(region analysis.Region) (analysis.Stats, error) {
	f, err := s.Frame()
	if err != nil {
		return analysis.Stats{}, err
	}
	return analysis.RegionStats(f.Raw, region), nil
}
