package api

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is the work an Autofetcher repeats. It reports whether the selection moved.
type Ticker interface {
	AutofetchTick() bool
}

// AutofetcherConfig contains configuration for the autofetcher.
type AutofetcherConfig struct {
	Interval time.Duration // default 2s
	Logger   zerolog.Logger
}

// Autofetcher periodically rescans the session folder and jumps to the newest file.
type Autofetcher struct {
	cfg    AutofetcherConfig
	target Ticker

	mu       sync.Mutex
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce *sync.Once
}

// NewAutofetcher creates a stopped autofetcher.
func NewAutofetcher(target Ticker, cfg AutofetcherConfig) *Autofetcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &Autofetcher{cfg: cfg, target: target}
}

// Start launches the ticker. Calling Start on a running autofetcher does nothing.
func (a *Autofetcher) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopCh != nil {
		return
	}
	a.stopCh = make(chan struct{})
	a.stopOnce = new(sync.Once)
	a.wg.Add(1)
	go a.run(a.stopCh)
	a.cfg.Logger.Info().Dur("interval", a.cfg.Interval).Msg("autofetch started")
}

// Stop halts the ticker and waits for an in-flight tick. It is safe to call
// repeatedly and on a stopped autofetcher.
func (a *Autofetcher) Stop() {
	a.mu.Lock()
	ch, once := a.stopCh, a.stopOnce
	a.stopCh, a.stopOnce = nil, nil
	a.mu.Unlock()
	if ch == nil {
		return
	}
	once.Do(func() { close(ch) })
	a.wg.Wait()
	a.cfg.Logger.Info().Msg("autofetch stopped")
}

// Running reports whether the ticker is active.
func (a *Autofetcher) Running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stopCh != nil
}

func (a *Autofetcher) run(stop <-chan struct{}) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if a.target.AutofetchTick() {
				a.cfg.Logger.Debug().Msg("autofetch moved selection")
			}
		}
	}
}
