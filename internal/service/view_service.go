// Package service provides the request-level operations of the viewer on top
// of one session.
package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/fist-tools/fist/internal/analysis"
	"github.com/fist-tools/fist/internal/cache"
	"github.com/fist-tools/fist/internal/catalog"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/header"
	"github.com/fist-tools/fist/internal/imaging"
	"github.com/fist-tools/fist/internal/instrument"
	"github.com/fist-tools/fist/internal/render"
	"github.com/fist-tools/fist/internal/session"
)

// ViewServiceConfig contains view service configuration.
type ViewServiceConfig struct {
	Session  *session.Session
	Headers  *header.Service
	Cache    *cache.Manager
	Renderer *render.FrameRenderer
	Logger   zerolog.Logger
}

// ViewService serializes every request against the session it wraps.
type ViewService struct {
	mu       sync.Mutex
	sess     *session.Session
	headers  *header.Service
	cache    *cache.Manager
	renderer *render.FrameRenderer
	log      zerolog.Logger
}

// NewViewService creates a new view service.
func NewViewService(cfg ViewServiceConfig) *ViewService {
	return &ViewService{
		sess:     cfg.Session,
		headers:  cfg.Headers,
		cache:    cfg.Cache,
		renderer: cfg.Renderer,
		log:      cfg.Logger,
	}
}

// State is a snapshot of the session for clients.
type State struct {
	Instrument string              `json:"instrument"`
	Folder     string              `json:"folder"`
	Filetype   string              `json:"filetype"`
	Filetypes  []string            `json:"filetypes"`
	SortKey    string              `json:"sort_key"`
	Count      int                 `json:"count"`
	Selected   int                 `json:"selected"`
	File       string              `json:"file,omitempty"`
	Extension  string              `json:"extension"`
	Source     int                 `json:"source"`
	Sources    []string            `json:"sources"`
	Scaling    imaging.ScaleParams `json:"scaling"`
	Palette    string              `json:"palette"`
	Transform  imaging.Transform   `json:"transform"`
	Arithmetic session.Arithmetic  `json:"arithmetic"`
	Status     string              `json:"status"`
}

func (s *ViewService) state() State {
	p := s.sess.Profile()
	st := State{
		Instrument: p.Name,
		Folder:     s.sess.Folder(),
		Filetype:   s.sess.Filetype(),
		Filetypes:  p.FiletypeList,
		SortKey:    s.sess.SortKey(),
		Count:      len(s.sess.Entries()),
		Selected:   s.sess.SelectedIndex(),
		Extension:  s.sess.Extension(),
		Source:     s.sess.Source(),
		Sources:    s.sess.SourceLabels(),
		Scaling:    s.sess.Scaling(),
		Palette:    s.sess.Palette(),
		Transform:  s.sess.Transform(),
		Arithmetic: s.sess.Arithmetic(),
		Status:     s.sess.Status(),
	}
	if cur, ok := s.sess.Selected(); ok {
		st.File = cur.Path
	}
	if st.Sources == nil {
		st.Sources = []string{}
	}
	return st
}

// Instrument returns the active profile.
func (s *ViewService) Instrument() *instrument.Profile {
	return s.sess.Profile()
}

// State returns the current session snapshot.
func (s *ViewService) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state()
}

// Scan rescans with opts and drops every derived cache entry on success.
func (s *ViewService) Scan(opts session.Options) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.sess.Scan(opts); err != nil {
		s.log.Warn().Err(err).Str("folder", s.sess.Folder()).Msg("scan failed")
		return s.state(), err
	}
	s.purge()
	s.log.Info().
		Str("folder", s.sess.Folder()).
		Str("filetype", s.sess.Filetype()).
		Int("files", len(s.sess.Entries())).
		Msg("catalog scanned")
	return s.state(), nil
}

func (s *ViewService) purge() {
	if s.cache == nil {
		return
	}
	if err := s.cache.Purge(); err != nil {
		s.log.Warn().Err(err).Msg("cache purge failed")
	}
}

// Files returns the ordered catalog.
func (s *ViewService) Files() []catalog.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Entries()
}

// Select moves the selection by index, or by path when index is nil.
func (s *ViewService) Select(index *int, path string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if index != nil {
		err = s.sess.Select(*index)
	} else {
		err = s.sess.SelectPath(path)
	}
	return s.state(), err
}

// Extensions lists the selected file's image extensions and header units.
type Extensions struct {
	Image  []string `json:"image"`
	Header []string `json:"header"`
}

// Extensions returns the extension lists of the selected file.
func (s *ViewService) Extensions() (Extensions, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sess.Selected(); !ok {
		return Extensions{}, session.ErrNoSelection
	}
	ext := Extensions{Image: s.sess.Extensions(), Header: s.sess.HeaderExtensions()}
	if ext.Image == nil {
		ext.Image = []string{}
	}
	return ext, nil
}

// SetView changes extension and/or source.
func (s *ViewService) SetView(v session.View) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sess.SetView(v)
	return s.state(), err
}

// Sources returns the source labels of the current extension.
func (s *ViewService) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if labels := s.sess.SourceLabels(); labels != nil {
		return labels
	}
	return []string{}
}

// SetDisplay replaces the scaling parameters and palette.
func (s *ViewService) SetDisplay(p imaging.ScaleParams, palette string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sess.SetDisplay(p, palette)
	return s.state(), err
}

// SetTransform sets the flip and negative flags.
func (s *ViewService) SetTransform(flipX, flipY, negative bool) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.SetFlips(flipX, flipY, negative)
	return s.state()
}

// Rotate adds one quarter turn.
func (s *ViewService) Rotate() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess.Rotate()
	return s.state()
}

// SetArithmetic configures the arithmetic slot.
func (s *ViewService) SetArithmetic(enabled bool, op, file string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.sess.SetArithmetic(enabled, op, file)
	return s.state(), err
}

// FramePNG renders the current frame with overlays. Encoded frames are cached
// under a key covering every input, including both files' stamps.
func (s *ViewService) FramePNG(ov render.Overlays) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.sess.Frame()
	if err != nil {
		return nil, err
	}

	key := s.frameKey("png", ov)
	if s.cache != nil {
		if data, ok := s.cache.GetFrame(key); ok {
			s.log.Debug().Str("file", f.Name).Msg("frame cache hit")
			return data, nil
		}
	}

	data, err := s.renderer.RenderPNG(f.Display, s.sess.Palette(), ov)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", f.Name, err)
	}
	if s.cache != nil {
		if err := s.cache.SetFrame(key, data); err != nil {
			s.log.Warn().Err(err).Str("file", f.Name).Msg("frame cache set failed")
		}
	}
	return data, nil
}

// RawFrame is the packed pixel buffer of the current frame.
type RawFrame struct {
	Data   []byte
	Height int
	Width  int
}

// FrameRaw returns the little-endian ABGR buffer of the current frame.
func (s *ViewService) FrameRaw() (RawFrame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.sess.Frame()
	if err != nil {
		return RawFrame{}, err
	}
	return RawFrame{
		Data:   s.renderer.Raw(f.Display, s.sess.Palette()),
		Height: f.Display.Height,
		Width:  f.Display.Width,
	}, nil
}

func (s *ViewService) frameKey(kind string, ov render.Overlays) string {
	parts := []interface{}{kind}
	if cur, ok := s.sess.Selected(); ok {
		parts = append(parts, cache.FileStamp(cur.Path))
	}
	a := s.sess.Arithmetic()
	parts = append(parts,
		s.sess.Extension(), s.sess.Source(),
		a.Enabled, a.Op, a.File)
	if a.Enabled && a.File != "" {
		parts = append(parts, cache.FileStamp(a.File))
	}
	parts = append(parts, s.sess.Scaling(), s.sess.Transform(), s.sess.Palette())
	if ov.Cut != nil {
		parts = append(parts, "cut", *ov.Cut)
	}
	if ov.Region != nil {
		parts = append(parts, ov.Region.Kind(), ov.Region)
	}
	return cache.FrameKey(parts...)
}

// Cut samples a line profile across the current pre-scaling array.
func (s *ViewService) Cut(spec analysis.CutSpec, samples int) (*analysis.Cut, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.Cut(spec, samples)
}

// Region computes statistics over region.
func (s *ViewService) Region(r analysis.Region) (analysis.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess.RegionStats(r)
}

// HeaderError reports a header that could not be read.
type HeaderError struct{ Err error }

func (e *HeaderError) Error() string { return "error loading header: " + e.Err.Error() }

func (e *HeaderError) Unwrap() error { return e.Err }

// Status is the message shown in place of the header text.
func (e *HeaderError) Status() string { return "Error loading header: " + e.Err.Error() }

// Header returns the header text of extension of the selected file, filtered by
// query. An empty extension selects the primary header.
func (s *ViewService) Header(extension, query string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sess.Selected()
	if !ok {
		return "", session.ErrNoSelection
	}
	if extension == "" {
		extension = fits.PrimaryName
	}
	text, err := s.headers.ExtractText(cur.Path, extension)
	if err != nil {
		return "", &HeaderError{Err: err}
	}
	return header.Filter(text, query), nil
}

// AutofetchTick rescans and jumps to the most recent file.
func (s *ViewService) AutofetchTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.sess.AutofetchTick() {
		return false
	}
	s.purge()
	if cur, ok := s.sess.Selected(); ok {
		s.log.Info().Str("file", cur.Name()).Msg("autofetch selected newest file")
	}
	return true
}
