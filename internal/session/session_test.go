package session

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/fist-tools/fist/internal/analysis"
	"github.com/fist-tools/fist/internal/catalog"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/data/fits/fitstest"
	"github.com/fist-tools/fist/internal/imaging"
	"github.com/fist-tools/fist/internal/instrument"
)

// countingSource wraps a reader and counts extension scans.
type countingSource struct {
	*fits.Reader
	extCalls int
}

func (c *countingSource) ImageExtensions(path string) ([]string, error) {
	c.extCalls++
	return c.Reader.ImageExtensions(path)
}

func testProfile() *instrument.Profile {
	return &instrument.Profile{
		Key:             "TEST",
		Name:            "Test",
		StartFolder:     ".",
		SortKey:         "MJD-OBS",
		Sources:         map[int]string{0: "SCI1", 1: "CAL"},
		Filetypes:       map[string]instrument.Patterns{"raw": {"*.fits"}},
		FiletypeList:    []string{"raw"},
		DefaultFiletype: "raw",
		Scaling:         imaging.ScaleParams{PMin: 1, PMax: 99, Gamma: 1, Contrast: 1, Stretch: imaging.StretchLinear},
		Palette:         "viridis",
	}
}

func newSource(t *testing.T) *countingSource {
	t.Helper()
	r, err := fits.NewReader()
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	t.Cleanup(r.Close)
	return &countingSource{Reader: r}
}

func write(t *testing.T, dir, name string, mjd float64, rows [][]float64) string {
	t.Helper()
	p := filepath.Join(dir, name)
	hdu := fitstest.Image2D("", rows, fitstest.Card{Key: "MJD-OBS", Value: mjd})
	if err := fitstest.WriteFile(p, hdu); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

// newScanned builds a folder of three 2x3 frames whose MJD order differs from
// their name order and scans it.
func newScanned(t *testing.T) (*Session, *countingSource, string) {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "a.fits", 3, [][]float64{{30, 30, 30}, {30, 30, 30}})
	write(t, dir, "b.fits", 1, [][]float64{{1, 2, 3}, {4, 5, 6}})
	write(t, dir, "c.fits", 2, [][]float64{{10, 10, 10}, {10, 10, 10}})

	src := newSource(t)
	s := New(testProfile(), src, Options{Folder: dir})
	if err := s.Scan(Options{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return s, src, dir
}

func entryNames(entries []catalog.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name()
	}
	return out
}

func TestScan_OrdersAndSelectsFirst(t *testing.T) {
	s, _, _ := newScanned(t)

	if got := entryNames(s.Entries()); !reflect.DeepEqual(got, []string{"b.fits", "c.fits", "a.fits"}) {
		t.Fatalf("unexpected order %v", got)
	}
	if s.Status() != "Found 3 files (sorted by: MJD-OBS)." {
		t.Fatalf("unexpected status %q", s.Status())
	}
	cur, ok := s.Selected()
	if !ok || cur.Name() != "b.fits" || s.SelectedIndex() != 0 {
		t.Fatalf("expected b.fits selected, got %v", cur)
	}
	if s.Extension() != fits.PrimaryName {
		t.Fatalf("expected PRIMARY, got %q", s.Extension())
	}

	f, err := s.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Raw.At(1, 2) != 6 {
		t.Fatalf("unexpected raw data %v", f.Raw.Data)
	}
	if s.Status() != "Read b.fits (3 x 2)." {
		t.Fatalf("unexpected status %q", s.Status())
	}
}

func TestScan_FailureKeepsCatalog(t *testing.T) {
	s, _, dir := newScanned(t)

	missing := filepath.Join(dir, "nope")
	err := s.Scan(Options{Folder: missing})
	if !errors.Is(err, catalog.ErrFolderNotFound) {
		t.Fatalf("expected ErrFolderNotFound, got %v", err)
	}
	if len(s.Entries()) != 3 {
		t.Fatal("expected catalog to survive a failed scan")
	}
	if s.Status() != "Folder not found: "+missing {
		t.Fatalf("unexpected status %q", s.Status())
	}

	empty := t.TempDir()
	if err := s.Scan(Options{Folder: empty}); !errors.Is(err, catalog.ErrNoFilesMatched) {
		t.Fatalf("expected ErrNoFilesMatched, got %v", err)
	}
	if !strings.HasPrefix(s.Status(), "No raw files in ") {
		t.Fatalf("unexpected status %q", s.Status())
	}
	if err := s.Scan(Options{Filetype: "bogus"}); !errors.Is(err, catalog.ErrUnknownFiletype) {
		t.Fatalf("expected ErrUnknownFiletype, got %v", err)
	}
}

func TestSelect(t *testing.T) {
	s, _, dir := newScanned(t)

	if err := s.Select(3); !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := s.SelectPath(filepath.Join(dir, "a.fits")); err != nil {
		t.Fatalf("SelectPath: %v", err)
	}
	if s.SelectedIndex() != 2 {
		t.Fatalf("expected index 2, got %d", s.SelectedIndex())
	}
	if err := s.SelectPath(filepath.Join(dir, "zzz.fits")); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("expected ErrNotInCatalog, got %v", err)
	}
}

func TestFrame_NoSelection(t *testing.T) {
	s := New(testProfile(), newSource(t), Options{})
	if _, err := s.Frame(); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
	if err := s.SetView(View{}); !errors.Is(err, ErrNoSelection) {
		t.Fatalf("expected ErrNoSelection, got %v", err)
	}
}

func TestArithmetic(t *testing.T) {
	s, _, dir := newScanned(t)

	if err := s.SetArithmetic(true, "-", filepath.Join(dir, "c.fits")); err != nil {
		t.Fatalf("SetArithmetic: %v", err)
	}
	f, err := s.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Raw.At(0, 0) != -9 || f.Raw.At(1, 2) != -4 {
		t.Fatalf("unexpected difference %v", f.Raw.Data)
	}
	a := s.Arithmetic()
	if !a.Active || a.Array == nil || a.HasNonFinite {
		t.Fatalf("unexpected slot %+v", a)
	}

	if err := s.SetArithmetic(false, "", filepath.Join(dir, "c.fits")); err != nil {
		t.Fatalf("SetArithmetic: %v", err)
	}
	if _, err := s.Frame(); err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if a := s.Arithmetic(); a.Active || a.Array != nil || a.Op != imaging.OpSubtract {
		t.Fatalf("expected cleared slot keeping op, got %+v", a)
	}
}

func TestArithmetic_DivideByZeroFlagsNonFinite(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "a.fits", 1, [][]float64{{1, 0}})
	write(t, dir, "z.fits", 2, [][]float64{{0, 0}})
	s := New(testProfile(), newSource(t), Options{Folder: dir})
	if err := s.Scan(Options{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetArithmetic(true, "/", filepath.Join(dir, "z.fits")); err != nil {
		t.Fatal(err)
	}
	f, err := s.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if !math.IsInf(f.Raw.At(0, 0), 1) || !math.IsNaN(f.Raw.At(0, 1)) {
		t.Fatalf("unexpected quotient %v", f.Raw.Data)
	}
	if !s.Arithmetic().HasNonFinite {
		t.Fatal("expected non-finite warning")
	}
}

func TestArithmetic_ShapeMismatch(t *testing.T) {
	s, _, dir := newScanned(t)
	write(t, dir, "small.fits", 9, [][]float64{{1}})
	if err := s.Scan(Options{}); err != nil {
		t.Fatal(err)
	}
	if err := s.SetArithmetic(true, "add", filepath.Join(dir, "small.fits")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Frame(); !errors.Is(err, imaging.ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	if s.Status() != StatusArithError {
		t.Fatalf("unexpected status %q", s.Status())
	}
}

func TestSetArithmetic_Validation(t *testing.T) {
	s, _, dir := newScanned(t)
	if err := s.SetArithmetic(true, "pow", ""); !errors.Is(err, imaging.ErrUnknownOp) {
		t.Fatalf("expected ErrUnknownOp, got %v", err)
	}
	if err := s.SetArithmetic(true, "+", filepath.Join(dir, "x.fits")); !errors.Is(err, ErrNotInCatalog) {
		t.Fatalf("expected ErrNotInCatalog, got %v", err)
	}
	if err := s.SetArithmetic(true, "+", "None"); err != nil || s.Arithmetic().File != "" {
		t.Fatalf("expected None to clear the file, got %v", err)
	}
}

func TestScan_ResetsArithmeticFile(t *testing.T) {
	s, _, dir := newScanned(t)
	if err := s.SetArithmetic(true, "+", filepath.Join(dir, "c.fits")); err != nil {
		t.Fatal(err)
	}
	if err := s.Scan(Options{}); err != nil {
		t.Fatal(err)
	}
	if s.Arithmetic().File != "" {
		t.Fatal("expected rescan to reset the arithmetic file")
	}
}

func TestCubeSources(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cube.fits")
	err := fitstest.WriteFile(p,
		fitstest.Empty(fitstest.Card{Key: "MJD-OBS", Value: 1.0}),
		fitstest.Cube("FLUX", [][][]float64{
			{{1, 1}, {1, 1}},
			{{2, 2}, {2, 2}},
			{{3, 3}, {3, 3}},
		}),
	)
	if err != nil {
		t.Fatal(err)
	}
	s := New(testProfile(), newSource(t), Options{Folder: dir})
	if err := s.Scan(Options{}); err != nil {
		t.Fatal(err)
	}

	if s.Extension() != "FLUX" {
		t.Fatalf("expected FLUX, got %q", s.Extension())
	}
	if got := s.SourceLabels(); !reflect.DeepEqual(got, []string{"SCI1", "CAL", "src2"}) {
		t.Fatalf("unexpected labels %v", got)
	}
	if got := s.HeaderExtensions(); !reflect.DeepEqual(got, []string{"PRIMARY", "FLUX"}) {
		t.Fatalf("unexpected header extensions %v", got)
	}

	label := "src2"
	if err := s.SetView(View{Source: &label}); err != nil {
		t.Fatal(err)
	}
	f, err := s.Frame()
	if err != nil {
		t.Fatalf("Frame: %v", err)
	}
	if f.Raw.At(0, 0) != 3 {
		t.Fatalf("expected plane 2, got %v", f.Raw.Data)
	}

	unknown := "nope"
	if err := s.SetView(View{Source: &unknown}); err != nil {
		t.Fatal(err)
	}
	if s.Source() != 0 {
		t.Fatalf("expected unknown label to select plane 0, got %d", s.Source())
	}

	bad := "SCI"
	if err := s.SetView(View{Extension: &bad}); !errors.Is(err, fits.ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
}

func TestExtensionCache(t *testing.T) {
	s, src, dir := newScanned(t)

	before := src.extCalls
	s.Extensions()
	s.Extensions()
	if src.extCalls != before {
		t.Fatalf("expected cached extensions, got %d extra scans", src.extCalls-before)
	}

	outside := write(t, t.TempDir(), "out.fits", 5, [][]float64{{1}})
	s.ResolveExtensions(outside)
	s.ResolveExtensions(outside)
	if src.extCalls != before+2 {
		t.Fatalf("expected uncached scans for a non-member, got %d", src.extCalls-before)
	}

	cached := s.CachedExtensions()
	write(t, dir, "d.fits", 4, [][]float64{{1, 1, 1}, {1, 1, 1}})
	if err := s.Scan(Options{}); err != nil {
		t.Fatal(err)
	}
	if s.CachedExtensions() > cached {
		t.Fatal("expected rescan to clear the extension cache")
	}
}

func TestExtensionCache_Bound(t *testing.T) {
	dir := t.TempDir()
	const n = ExtCacheLimit + 3
	for i := 0; i < n; i++ {
		write(t, dir, fmt.Sprintf("f%03d.fits", i), float64(i), [][]float64{{1}})
	}
	src := newSource(t)
	s := New(testProfile(), src, Options{Folder: dir})
	if err := s.Scan(Options{}); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	entries := s.Entries()
	if len(entries) != n {
		t.Fatalf("expected %d entries, got %d", n, len(entries))
	}

	resolve := func(i int) int {
		before := src.extCalls
		if exts := s.ResolveExtensions(entries[i].Path); len(exts) != 1 {
			t.Fatalf("index %d: unexpected extensions %v", i, exts)
		}
		return src.extCalls - before
	}

	last := ExtCacheLimit - 1
	if got := resolve(last) + resolve(last); got != 1 {
		t.Fatalf("index %d: expected one scan then a cache hit, got %d scans", last, got)
	}
	for i := ExtCacheLimit; i < n; i++ {
		if got := resolve(i) + resolve(i); got != 2 {
			t.Fatalf("index %d: expected a scan on every call, got %d", i, got)
		}
	}

	for i := range entries {
		resolve(i)
		if s.CachedExtensions() > ExtCacheLimit {
			t.Fatalf("cache grew to %d entries", s.CachedExtensions())
		}
	}
	if s.CachedExtensions() != ExtCacheLimit {
		t.Fatalf("expected %d cached entries, got %d", ExtCacheLimit, s.CachedExtensions())
	}
}

func TestDisplayAndTransform(t *testing.T) {
	s, _, _ := newScanned(t)

	bad := s.Scaling()
	bad.Gamma = 0
	if err := s.SetDisplay(bad, ""); err == nil {
		t.Fatal("expected invalid gamma to be rejected")
	}
	if err := s.SetDisplay(s.Scaling(), "rainbow"); !errors.Is(err, ErrUnknownPalette) {
		t.Fatalf("expected ErrUnknownPalette, got %v", err)
	}
	p := s.Scaling()
	p.Stretch = ""
	if err := s.SetDisplay(p, "Hot"); err != nil {
		t.Fatalf("SetDisplay: %v", err)
	}
	if s.Palette() != "hot" || s.Scaling().Stretch != imaging.StretchLinear {
		t.Fatalf("unexpected display %q %q", s.Palette(), s.Scaling().Stretch)
	}

	s.Rotate()
	f, err := s.Frame()
	if err != nil {
		t.Fatal(err)
	}
	if f.Display.Height != 3 || f.Display.Width != 2 {
		t.Fatalf("expected rotated 3x2 display, got %dx%d", f.Display.Height, f.Display.Width)
	}
	if f.Raw.Height != 2 {
		t.Fatal("expected raw array to stay unrotated")
	}
	if s.Status() != "Read b.fits (2 x 3)." {
		t.Fatalf("unexpected status %q", s.Status())
	}

	s.SetFlips(true, false, true)
	if tr := s.Transform(); !tr.FlipX || tr.FlipY || !tr.Negative || tr.Rot90 != 1 {
		t.Fatalf("unexpected transform %+v", tr)
	}
}

func TestCutAndRegionUseRawData(t *testing.T) {
	s, _, _ := newScanned(t)

	cut, err := s.Cut(analysis.CutSpec{X1: 0, Y1: 0, X2: 2, Y2: 0}, 3)
	if err != nil {
		t.Fatalf("Cut: %v", err)
	}
	if cut.Values[0] != 1 || cut.Values[2] != 3 {
		t.Fatalf("unexpected profile %v", cut.Values)
	}

	stats, err := s.RegionStats(analysis.Square{X: -1, Y: -1, Side: 5})
	if err != nil {
		t.Fatalf("RegionStats: %v", err)
	}
	if stats.Count != 6 || stats.Sum != 21 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestAutofetchTick(t *testing.T) {
	s, _, dir := newScanned(t)

	if !s.AutofetchTick() {
		t.Fatal("expected jump to the latest file")
	}
	if cur, _ := s.Selected(); cur.Name() != "a.fits" {
		t.Fatalf("expected a.fits, got %s", cur.Name())
	}
	if s.AutofetchTick() {
		t.Fatal("expected no change when the latest file is selected")
	}

	write(t, dir, "new.fits", 10, [][]float64{{0, 0, 0}, {0, 0, 0}})
	if !s.AutofetchTick() {
		t.Fatal("expected jump to the new file")
	}
	if cur, _ := s.Selected(); cur.Name() != "new.fits" || len(s.Entries()) != 4 {
		t.Fatalf("unexpected selection %s of %d", cur.Name(), len(s.Entries()))
	}

	for _, n := range []string{"a.fits", "b.fits", "c.fits", "new.fits"} {
		if err := os.Remove(filepath.Join(dir, n)); err != nil {
			t.Fatal(err)
		}
	}
	if s.AutofetchTick() {
		t.Fatal("expected empty folder to be a no-op")
	}
	if len(s.Entries()) != 4 {
		t.Fatal("expected catalog untouched by a failed tick")
	}
}
