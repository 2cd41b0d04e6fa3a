// Package main is the entry point for the FIST viewer server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fist-tools/fist/internal/api"
	"github.com/fist-tools/fist/internal/cache"
	"github.com/fist-tools/fist/internal/config"
	"github.com/fist-tools/fist/internal/data/fits"
	"github.com/fist-tools/fist/internal/header"
	"github.com/fist-tools/fist/internal/instrument"
	"github.com/fist-tools/fist/internal/logging"
	"github.com/fist-tools/fist/internal/render"
	"github.com/fist-tools/fist/internal/service"
	"github.com/fist-tools/fist/internal/session"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/fist.yaml", "Path to configuration file")
	instrumentName := flag.String("instrument", "", "Instrument profile ("+strings.Join(instrument.Names(), ", ")+")")
	folder := flag.String("folder", "", "Folder to browse; EXAMPLE selects the bundled example data")
	port := flag.Int("port", 0, "HTTP port")
	show := flag.Bool("show", false, "Open the viewer in a browser")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *instrumentName != "" {
		cfg.Session.Instrument = *instrumentName
	}
	if *folder != "" {
		cfg.Session.Folder = *folder
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	logger := logging.New(cfg.Log)
	if err := run(cfg, *show, logger); err != nil {
		logger.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, show bool, logger zerolog.Logger) error {
	profile, err := instrument.Load(strings.ToUpper(strings.TrimSpace(cfg.Session.Instrument)))
	if err != nil {
		return err
	}

	folder := cfg.ResolveFolder(cfg.Session.Folder)
	if folder == "" {
		folder = profile.StartFolder
	}
	logger.Info().
		Str("instrument", profile.Name).
		Str("folder", folder).
		Int("port", cfg.Server.Port).
		Msg("Starting FIST server")

	// Initialize components
	reader, err := fits.NewReader()
	if err != nil {
		return fmt.Errorf("init FITS reader: %w", err)
	}
	defer reader.Close()

	cacheManager, err := cache.NewManager(cache.Config{
		FrameCacheSizeMB: cfg.Cache.FrameSizeMB,
		FrameTTL:         time.Duration(cfg.Cache.FrameTTLMinutes) * time.Minute,
		HeaderEntries:    cfg.Cache.HeaderEntries,
	})
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	defer cacheManager.Close()

	sess := session.New(profile, reader, session.Options{
		Folder:   folder,
		Filetype: cfg.Session.Filetype,
	})
	svc := service.NewViewService(service.ViewServiceConfig{
		Session:  sess,
		Headers:  header.NewService(reader, cacheManager),
		Cache:    cacheManager,
		Renderer: render.NewFrameRenderer(render.Config{DefaultPalette: cfg.Render.DefaultPalette}),
		Logger:   logging.Component(logger, "service"),
	})

	// A failed initial scan leaves an empty catalog; the status line says why.
	if st, err := svc.Scan(session.Options{}); err != nil {
		logger.Warn().Err(err).Str("status", st.Status).Msg("initial scan failed")
	}

	autofetcher := api.NewAutofetcher(svc, api.AutofetcherConfig{
		Interval: cfg.Autofetch.Interval(),
		Logger:   logging.Component(logger, "autofetch"),
	})
	if cfg.Autofetch.Enabled || profile.Autofetch {
		autofetcher.Start()
	}
	defer autofetcher.Stop()

	// Set up HTTP router
	router := api.NewRouter(api.RouterConfig{
		Service:     svc,
		Autofetch:   autofetcher,
		CORSOrigins: cfg.Server.CORSOrigins,
		Title:       cfg.Server.Title,
		Logger:      logging.Component(logger, "api"),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh, err := listenAndServe(server, func(addr net.Addr) {
		url := fmt.Sprintf("http://localhost:%d", addr.(*net.TCPAddr).Port)
		logger.Info().Str("url", url).Msg("Server listening")
		if show {
			if err := openBrowser(url); err != nil {
				logger.Warn().Err(err).Msg("could not open browser")
			}
		}
	})
	if err != nil {
		return err
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server stopped")
	return nil
}

// listenAndServe binds server.Addr, calls onListening once the socket accepts
// connections and serves in the background. Serve errors other than a clean
// shutdown arrive on the returned channel.
func listenAndServe(server *http.Server, onListening func(net.Addr)) (<-chan error, error) {
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", server.Addr, err)
	}
	if onListening != nil {
		onListening(ln.Addr())
	}
	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	return errCh, nil
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
