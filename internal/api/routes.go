// Package api provides HTTP handlers for the FIST viewer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/fist-tools/fist/internal/analysis"
	"github.com/fist-tools/fist/internal/catalog"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/imaging"
	"github.com/fist-tools/fist/internal/instrument"
	"github.com/fist-tools/fist/internal/render"
	"github.com/fist-tools/fist/internal/service"
	"github.com/fist-tools/fist/internal/session"
	"github.com/fist-tools/fist/pkg/colormap"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Service     *service.ViewService
	Autofetch   *Autofetcher
	CORSOrigins []string
	Title       string
	Logger      zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-Image-Height", "X-Image-Width"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	svc := cfg.Service
	r.Route("/api", func(r chi.Router) {
		r.Get("/instrument", instrumentHandler(svc, cfg.Title))
		r.Get("/options", optionsHandler())
		r.Get("/state", stateHandler(svc))
		r.Post("/scan", scanHandler(svc))
		r.Get("/files", filesHandler(svc))
		r.Post("/select", selectHandler(svc))
		r.Get("/extensions", extensionsHandler(svc))
		r.Put("/view", viewHandler(svc))
		r.Get("/sources", sourcesHandler(svc))
		r.Put("/display", displayHandler(svc))
		r.Put("/transform", transformHandler(svc))
		r.Post("/transform/rotate", rotateHandler(svc))
		r.Put("/arithmetic", arithmeticHandler(svc))
		r.Get("/frame.png", framePNGHandler(svc))
		r.Get("/frame.raw", frameRawHandler(svc))
		r.Get("/cut", cutHandler(svc))
		r.Get("/region", regionHandler(svc))
		r.Get("/header", headerHandler(svc))
		r.Post("/autofetch", autofetchHandler(cfg.Autofetch))
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusCode maps a domain error to an HTTP status.
func statusCode(err error) int {
	var herr *service.HeaderError
	if errors.As(err, &herr) {
		return http.StatusUnprocessableEntity
	}
	switch {
	case errors.Is(err, catalog.ErrFolderNotFound),
		errors.Is(err, catalog.ErrNoFilesMatched),
		errors.Is(err, fits.ErrExtensionNotFound),
		errors.Is(err, session.ErrNoSelection),
		errors.Is(err, session.ErrNotInCatalog):
		return http.StatusNotFound
	case errors.Is(err, catalog.ErrUnknownFiletype),
		errors.Is(err, imaging.ErrUnknownOp),
		errors.Is(err, session.ErrUnknownPalette),
		errors.Is(err, session.ErrIndexOutOfRange),
		errors.Is(err, fits.ErrIndexOutOfRange),
		errors.Is(err, analysis.ErrTooManySamples),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, imaging.ErrShapeMismatch),
		errors.Is(err, fits.ErrFileUnreadable),
		errors.Is(err, fits.ErrUnsupportedRank),
		errors.Is(err, analysis.ErrEmptyArray):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// writeError reports err together with the session status line.
func writeError(w http.ResponseWriter, svc *service.ViewService, err error) {
	writeJSON(w, statusCode(err), map[string]interface{}{
		"error":  err.Error(),
		"status": svc.State().Status,
	})
}

// decodeBody decodes a JSON body into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

func instrumentHandler(svc *service.ViewService, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"title":   title,
			"profile": svc.Instrument(),
		})
	}
}

func optionsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"instruments": instrument.Names(),
			"palettes":    colormap.Names,
			"stretches":   imaging.Stretches,
			"operators":   []imaging.Op{imaging.OpAdd, imaging.OpSubtract, imaging.OpMultiply, imaging.OpDivide},
			"shapes":      []string{"circle", "square"},
		})
	}
}

func stateHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.State())
	}
}

func scanHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var opts session.Options
		if err := decodeBody(r, &opts); err != nil {
			writeError(w, svc, err)
			return
		}
		st, err := svc.Scan(opts)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func filesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries := svc.Files()
		if entries == nil {
			entries = []catalog.Entry{}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"files":    entries,
			"selected": svc.State().Selected,
		})
	}
}

type selectRequest struct {
	Index *int   `json:"index"`
	Path  string `json:"path"`
}

func selectHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, svc, err)
			return
		}
		if req.Index == nil && req.Path == "" {
			writeError(w, svc, badRequest("index or path is required"))
			return
		}
		st, err := svc.Select(req.Index, req.Path)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func extensionsHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ext, err := svc.Extensions()
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, ext)
	}
}

func viewHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v session.View
		if err := decodeBody(r, &v); err != nil {
			writeError(w, svc, err)
			return
		}
		st, err := svc.SetView(v)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func sourcesHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"sources": svc.Sources()})
	}
}

type displayRequest struct {
	imaging.ScaleParams
	Palette string `json:"palette"`
}

func displayHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Fields absent from the body keep their current values.
		cur := svc.State()
		req := displayRequest{ScaleParams: cur.Scaling, Palette: cur.Palette}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, svc, err)
			return
		}
		st, err := svc.SetDisplay(req.ScaleParams, req.Palette)
		if err != nil {
			if statusCode(err) == http.StatusInternalServerError {
				err = badRequest("%v", err)
			}
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type transformRequest struct {
	FlipX    *bool `json:"flip_x"`
	FlipY    *bool `json:"flip_y"`
	Negative *bool `json:"negative"`
}

func transformHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transformRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, svc, err)
			return
		}
		t := svc.State().Transform
		if req.FlipX != nil {
			t.FlipX = *req.FlipX
		}
		if req.FlipY != nil {
			t.FlipY = *req.FlipY
		}
		if req.Negative != nil {
			t.Negative = *req.Negative
		}
		writeJSON(w, http.StatusOK, svc.SetTransform(t.FlipX, t.FlipY, t.Negative))
	}
}

func rotateHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Rotate())
	}
}

type arithmeticRequest struct {
	Enabled bool   `json:"enabled"`
	Op      string `json:"op"`
	File    string `json:"file"`
}

func arithmeticHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req arithmeticRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, svc, err)
			return
		}
		st, err := svc.SetArithmetic(req.Enabled, req.Op, req.File)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

// parseFloats splits a comma-separated list of exactly n numbers.
func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, badRequest("expected %d comma-separated numbers, got %q", n, s)
	}
	out := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, badRequest("invalid number %q", p)
		}
		out[i] = v
	}
	return out, nil
}

// parseOverlays reads cut=x1,y1,x2,y2 and region=shape,x,y,d.
func parseOverlays(r *http.Request) (render.Overlays, error) {
	var ov render.Overlays
	q := r.URL.Query()
	if s := q.Get("cut"); s != "" {
		v, err := parseFloats(s, 4)
		if err != nil {
			return ov, err
		}
		ov.Cut = &analysis.CutSpec{X1: v[0], Y1: v[1], X2: v[2], Y2: v[3]}
	}
	if s := q.Get("region"); s != "" {
		shape, rest, _ := strings.Cut(s, ",")
		v, err := parseFloats(rest, 3)
		if err != nil {
			return ov, err
		}
		region, err := analysis.NewRegion(shape, v[0], v[1], v[2])
		if err != nil {
			return ov, badRequest("%v", err)
		}
		ov.Region = region
	}
	return ov, nil
}

func framePNGHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ov, err := parseOverlays(r)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		data, err := svc.FramePNG(ov)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("Cache-Control", "no-store")
		w.Write(data)
	}
}

func frameRawHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, err := svc.FrameRaw()
		if err != nil {
			writeError(w, svc, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("X-Image-Height", strconv.Itoa(raw.Height))
		w.Header().Set("X-Image-Width", strconv.Itoa(raw.Width))
		w.Write(raw.Data)
	}
}

func queryFloat(r *http.Request, name string) (float64, error) {
	s := r.URL.Query().Get(name)
	if s == "" {
		return 0, badRequest("missing required query param: %s", name)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, badRequest("invalid %s: %q", name, s)
	}
	return v, nil
}

func cutHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var coords [4]float64
		for i, name := range []string{"x1", "y1", "x2", "y2"} {
			v, err := queryFloat(r, name)
			if err != nil {
				writeError(w, svc, err)
				return
			}
			coords[i] = v
		}
		samples := 0
		if s := r.URL.Query().Get("samples"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				writeError(w, svc, badRequest("invalid samples: %q", s))
				return
			}
			if n > analysis.MaxSamples {
				writeError(w, svc, badRequest("samples must not exceed %d", analysis.MaxSamples))
				return
			}
			samples = n
		}
		cut, err := svc.Cut(analysis.CutSpec{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}, samples)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"spec":      cut.Spec,
			"distances": cut.Distances,
			"values":    nullable(cut.Values),
		})
	}
}

// nullable replaces non-finite samples with null, which JSON can carry.
func nullable(vals []float64) []*float64 {
	out := make([]*float64, len(vals))
	for i := range vals {
		if !math.IsNaN(vals[i]) && !math.IsInf(vals[i], 0) {
			out[i] = &vals[i]
		}
	}
	return out
}

// regionResponse carries statistics as strings so NaN survives JSON.
type regionResponse struct {
	Shape  string            `json:"shape"`
	Count  int               `json:"count"`
	Values map[string]string `json:"values"`
	Table  string            `json:"table"`
}

func regionHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var v [3]float64
		for i, name := range []string{"x", "y", "d"} {
			f, err := queryFloat(r, name)
			if err != nil {
				writeError(w, svc, err)
				return
			}
			v[i] = f
		}
		region, err := analysis.NewRegion(r.URL.Query().Get("shape"), v[0], v[1], v[2])
		if err != nil {
			writeError(w, svc, badRequest("%v", err))
			return
		}
		stats, err := svc.Region(region)
		if err != nil {
			writeError(w, svc, err)
			return
		}
		resp := regionResponse{Shape: region.Kind(), Count: stats.Count, Table: stats.Table()}
		if !stats.Empty {
			resp.Values = map[string]string{
				"sum":    formatStat(stats.Sum),
				"mean":   formatStat(stats.Mean),
				"std":    formatStat(stats.Std),
				"min":    formatStat(stats.Min),
				"median": formatStat(stats.Median),
				"max":    formatStat(stats.Max),
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func formatStat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func headerHandler(svc *service.ViewService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		text, err := svc.Header(q.Get("ext"), q.Get("q"))
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err != nil {
			var herr *service.HeaderError
			if errors.As(err, &herr) {
				text = herr.Status()
			} else {
				text = err.Error()
			}
			w.WriteHeader(statusCode(err))
		}
		io.WriteString(w, text)
	}
}

type autofetchRequest struct {
	Enabled bool `json:"enabled"`
}

func autofetchHandler(af *Autofetcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if af == nil {
			http.Error(w, "autofetch not configured", http.StatusServiceUnavailable)
			return
		}
		var req autofetchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.Enabled {
			af.Start()
		} else {
			af.Stop()
		}
		writeJSON(w, http.StatusOK, map[string]bool{"enabled": af.Running()})
	}
}
