package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/rmax-ai/catalogctl/pkg/catalog"
	"github.com/rmax-ai/catalogctl/pkg/metrics"
	"github.com/rmax-ai/catalogctl/pkg/store"
	redisstore "github.com/rmax-ai/catalogctl/pkg/store/redis"
)

// leaseTTL bounds how long a crashed run keeps other runs off a target.
const leaseTTL = 2 * time.Minute

// app carries everything a command needs once the root command has set
// it up.
type app struct {
	cfg      Config
	logger   *slog.Logger
	logOut   *heldWriter
	out      io.Writer
	stderr   io.Writer
	history  store.History
	holderID string

	// newCatalog logs in and returns a client; replaced in tests.
	newCatalog func(ctx context.Context) (catalog.Catalog, error)

	catalogOnce sync.Once
	cat         catalog.Catalog
	catErr      error

	closers []func(context.Context) error
}

// heldWriter passes writes through to w, except between hold and
// release, when they are buffered so a live terminal view owns the
// screen.
type heldWriter struct {
	mu   sync.Mutex
	w    io.Writer
	held *bytes.Buffer
}

func (h *heldWriter) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held != nil {
		return h.held.Write(p)
	}
	return h.w.Write(p)
}

func (h *heldWriter) hold() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held == nil {
		h.held = &bytes.Buffer{}
	}
}

// release writes out everything held back.
func (h *heldWriter) release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.held == nil {
		return nil
	}
	_, err := h.held.WriteTo(h.w)
	h.held = nil
	return err
}

func newLogger(w io.Writer, format string, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setup installs logging, tracing, metrics and history for one command
// invocation.
func (a *app) setup(ctx context.Context, stderr io.Writer) error {
	a.stderr = stderr
	a.logOut = &heldWriter{w: stderr}
	a.logger = newLogger(a.logOut, a.cfg.LogFormat, a.cfg.Debug)
	slog.SetDefault(a.logger)
	a.holderID = uuid.NewString()

	if a.cfg.TraceStdout {
		shutdown, err := setupTracing(stderr)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, shutdown)
	}

	if a.cfg.MetricsAddr != "" {
		metricsCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, a.cfg.MetricsAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics endpoint failed", "addr", a.cfg.MetricsAddr, "error", err)
			}
		}()
		a.logger.Debug("metrics endpoint listening", "addr", a.cfg.MetricsAddr)
		a.closers = append(a.closers, func(context.Context) error {
			cancel()
			<-done
			return nil
		})
	}

	h, err := openHistory(ctx, a.cfg.History)
	if err != nil {
		return err
	}
	a.history = h
	a.closers = append(a.closers, func(context.Context) error { return h.Close() })

	if a.newCatalog == nil {
		a.newCatalog = a.login
	}
	return nil
}

// close runs the registered closers in reverse order.
func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	a.closers = nil
	return errors.Join(errs...)
}

func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	res := resource.NewWithAttributes("",
		attribute.String("service.name", "catalogctl"),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func openHistory(ctx context.Context, spec string) (store.History, error) {
	backend, target, err := parseHistory(spec)
	if err != nil {
		return nil, err
	}
	switch backend {
	case historySQLite:
		s, err := store.NewStore(target)
		if err != nil {
			return nil, fmt.Errorf("open history %s: %w", target, err)
		}
		return s, nil
	case historyRedis:
		s, err := redisstore.Open(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("open history: %w", err)
		}
		return s, nil
	default:
		return store.NewMemoryStore(), nil
	}
}

// client returns the logged-in catalog client, logging in on first use.
func (a *app) client(ctx context.Context) (catalog.Catalog, error) {
	a.catalogOnce.Do(func() {
		a.cat, a.catErr = a.newCatalog(ctx)
	})
	return a.cat, a.catErr
}

func (a *app) login(ctx context.Context) (catalog.Catalog, error) {
	hc := &http.Client{Timeout: a.cfg.Timeout}
	a.logger.Info("logging in", "login_url", a.cfg.LoginURL, "user", a.cfg.Username)
	session, err := catalog.Login(ctx, hc, a.cfg.LoginURL, a.cfg.credentials())
	if err != nil {
		return nil, err
	}
	return catalog.NewClient(catalog.Config{
		APIURL:     a.cfg.APIURL,
		Session:    session,
		Timeout:    a.cfg.Timeout,
		RateLimit:  a.cfg.RateLimit,
		Burst:      a.cfg.Burst,
		MaxRetries: a.cfg.MaxRetries,
		HTTPClient: &http.Client{},
		Logger:     a.logger,
	}), nil
}

// campaign records c in the history while fn runs. When exclusive, fn
// also holds the lease for c's target so two runs cannot purge the same
// thing at once.
func (a *app) campaign(ctx context.Context, c store.Campaign, exclusive bool, fn func(context.Context, *store.Campaign) error) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	run := func(ctx context.Context) error {
		return store.Record(ctx, a.history, a.logger, c, func(c *store.Campaign) error {
			return fn(ctx, c)
		})
	}
	if !exclusive {
		return run(ctx)
	}
	return store.Hold(ctx, a.history, a.logger, store.LeaseName(c.Kind, c.Target), a.holderID, leaseTTL, run)
}

func (a *app) stdout() io.Writer {
	if a.out != nil {
		return a.out
	}
	return os.Stdout
}
