package header

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fist-tools/fist/internal/cache"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/data/fits/fitstest"
)

type countingReader struct {
	cards []fits.Card
	err   error
	calls int
}

func (r *countingReader) Header(path, extension string) ([]fits.Card, error) {
	r.calls++
	return r.cards, r.err
}

const sample = "SIMPLE               = True\n" +
	"BITPIX               = -64\n" +
	"OBJECT               = HD 1234\n" +
	"EXPTIME              = 300.0\n\n"

func TestFormat(t *testing.T) {
	got := Format([]fits.Card{{Key: "SIMPLE", Value: "True"}, {Key: "A_VERY_LONG_KEYWORD_NAME", Value: "1"}})
	want := "SIMPLE               = True\nA_VERY_LONG_KEYWORD_NAME = 1\n\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if Format(nil) != "\n\n" {
		t.Fatalf("expected only the trailing blank line, got %q", Format(nil))
	}
}

func TestFilter(t *testing.T) {
	t.Run("emptyQuery", func(t *testing.T) {
		if Filter(sample, "") != sample || Filter(sample, "   ") != sample {
			t.Fatal("expected empty query to return text unchanged")
		}
	})

	t.Run("caseInsensitive", func(t *testing.T) {
		got := Filter(sample, "  object ")
		if got != "OBJECT               = HD 1234" {
			t.Fatalf("unexpected filter result %q", got)
		}
	})

	t.Run("keepsOrder", func(t *testing.T) {
		got := Filter(sample, "=")
		lines := strings.Split(got, "\n")
		if len(lines) != 4 || !strings.HasPrefix(lines[0], "SIMPLE") || !strings.HasPrefix(lines[3], "EXPTIME") {
			t.Fatalf("unexpected lines %q", lines)
		}
	})

	t.Run("noMatch", func(t *testing.T) {
		if got := Filter(sample, "zzzznotfound"); got != NoMatches {
			t.Fatalf("expected %q, got %q", NoMatches, got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		for _, q := range []string{"", "bit", "zzzznotfound", "match", "e"} {
			once := Filter(sample, q)
			if twice := Filter(once, q); twice != once {
				t.Errorf("query %q: %q != %q", q, twice, once)
			}
		}
	})
}

func TestService_ExtractTextCaches(t *testing.T) {
	m, err := cache.NewManager(cache.Config{FrameCacheSizeMB: 8, FrameTTL: time.Minute, HeaderEntries: 8})
	if err != nil {
		t.Fatal(err)
	}
	defer m.Close()

	r := &countingReader{cards: []fits.Card{{Key: "NAXIS", Value: "2"}}}
	svc := NewService(r, m)
	p := filepath.Join(t.TempDir(), "x.fits")

	for i := 0; i < 3; i++ {
		text, err := svc.ExtractText(p, "PRIMARY")
		if err != nil {
			t.Fatalf("ExtractText: %v", err)
		}
		if !strings.HasPrefix(text, "NAXIS") {
			t.Fatalf("unexpected text %q", text)
		}
	}
	if r.calls != 1 {
		t.Fatalf("expected one header read, got %d", r.calls)
	}
}

func TestService_ExtractTextError(t *testing.T) {
	svc := NewService(&countingReader{err: fits.ErrExtensionNotFound}, nil)
	if _, err := svc.ExtractText("x.fits", "NOPE"); !errors.Is(err, fits.ErrExtensionNotFound) {
		t.Fatalf("expected ErrExtensionNotFound, got %v", err)
	}
}

func TestService_ExtractTextFromFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "a.fits")
	err := fitstest.WriteFile(p,
		fitstest.Empty(fitstest.Card{Key: "OBJECT", Value: "HD 1234"}),
		fitstest.Image2D("SCI", [][]float64{{1}}, fitstest.Card{Key: "EXPTIME", Value: 300.0}),
	)
	if err != nil {
		t.Fatal(err)
	}
	r, err := fits.NewReader()
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	text, err := NewService(r, nil).ExtractText(p, "SCI")
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if i, j := strings.Index(text, "EXTNAME"), strings.Index(text, "EXPTIME"); i < 0 || j < i {
		t.Fatalf("expected cards in file order, got %q", text)
	}
	if got := Filter(text, "exptime"); got != "EXPTIME              = 300.0" {
		t.Fatalf("unexpected EXPTIME line %q", got)
	}
	if !strings.HasSuffix(text, "\n\n") {
		t.Fatal("expected trailing blank line")
	}
	if strings.Contains(text, "OBJECT") {
		t.Fatal("primary cards leaked into the SCI header")
	}
}
