package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"github.com/funnyzak/reportsync/internal/config"
	"github.com/funnyzak/reportsync/internal/events"
	"github.com/funnyzak/reportsync/internal/interceptor"
	"github.com/funnyzak/reportsync/internal/logger"
	"github.com/funnyzak/reportsync/internal/printer"
	"github.com/funnyzak/reportsync/internal/replay"
	"github.com/funnyzak/reportsync/internal/storage"
	"github.com/funnyzak/reportsync/internal/upstream"
	"github.com/funnyzak/reportsync/internal/web"
	"github.com/funnyzak/reportsync/pkg/i18n"
)

const shutdownTimeout = 30 * time.Second

// Server wires interception, replay and the control API into one process
type Server struct {
	config      *config.Config
	logger      logger.Logger
	interceptor *interceptor.Interceptor
	ingest      *interceptor.IngestHandler
	devtools    *interceptor.DevToolsObserver
	client      *upstream.Client
	orch        *replay.Orchestrator
	bus         *events.Bus[events.Event]
	store       storage.Store
	printer     printer.Printer
	web         *web.Service
	router      *mux.Router

	baseCtx    context.Context
	cancelBase context.CancelFunc
	procWG     sync.WaitGroup
	closeOnce  sync.Once
}

// New creates a new server instance
func New(cfg *config.Config, log logger.Logger, translator *i18n.Translator) (*Server, error) {
	if err := CheckPaths(cfg); err != nil {
		return nil, err
	}

	matcher, err := interceptor.NewMatcher(cfg.Capture.EndpointPattern, cfg.Capture.Method)
	if err != nil {
		return nil, err
	}

	store, err := storage.New(&cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := upstream.NewClient(log, upstream.OptionsFromConfig(cfg.Upstream))
	bus := events.NewBus[events.Event](busBuffer(cfg))

	opts, err := replay.OptionsFromConfig(cfg.Replay, client.ReportEndpoint(), client.PrefixLength())
	if err != nil {
		store.Close()
		client.Close()
		return nil, err
	}
	opts.Publisher = bus

	baseCtx, cancel := context.WithCancel(context.Background())
	s := &Server{
		config:      cfg,
		logger:      log.With("server"),
		interceptor: interceptor.New(log, matcher, cfg.Capture.Buffer),
		client:      client,
		orch:        replay.New(client, log, opts),
		bus:         bus,
		store:       store,
		baseCtx:     baseCtx,
		cancelBase:  cancel,
	}
	s.ingest = interceptor.NewIngestHandler(s.interceptor, log, interceptor.IngestConfig{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Mirror:       cfg.Capture.Mirror,
	}, baseCtx, &s.procWG)

	if cfg.Capture.DevTools.Enable {
		s.devtools = interceptor.NewDevToolsObserver(cfg.Capture.DevTools.URL, s.interceptor, log, cfg.Capture.DevTools.ReconnectDelay)
	}
	if !cfg.Output.Silence {
		s.printer = printer.New(cfg.Output.Mode, log, &cfg.Output, translator, cfg.Upstream.LinkTemplate)
	}
	if cfg.Web.Enable {
		s.web = web.NewService(&cfg.Web, log, web.Deps{
			Store:        store,
			Orchestrator: s.orch,
			Events:       bus,
			LinkTemplate: cfg.Upstream.LinkTemplate,
		})
	}

	s.router = mux.NewRouter()
	if s.web != nil {
		s.web.RegisterRoutes(s.router)
	}
	s.router.PathPrefix(normalizePath(cfg.Server.Path)).Handler(s.ingest)

	return s, nil
}

// Handler exposes the HTTP router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Orchestrator exposes the replay orchestrator
func (s *Server) Orchestrator() *replay.Orchestrator {
	return s.orch
}

// Store exposes the capture and result log
func (s *Server) Store() storage.Store {
	return s.store
}

// Start listens on the configured port and runs until SIGINT or SIGTERM
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs every pipeline stage on ln until ctx is cancelled or a stage fails
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpSrv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)
	_, sub := s.bus.Subscribe()
	pumpDone := make(chan struct{})

	group.Go(func() error {
		s.recordEvents(sub)
		return nil
	})
	group.Go(func() error {
		defer close(pumpDone)
		s.pumpCaptures()
		return nil
	})
	group.Go(func() error {
		s.logger.Info("Starting HTTP server",
			"addr", ln.Addr().String(),
			"path", s.config.Server.Path,
		)
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	if s.web != nil {
		group.Go(func() error {
			return s.web.Run(groupCtx)
		})
	}
	if s.devtools != nil {
		group.Go(func() error {
			return s.devtools.Run(groupCtx)
		})
	}
	group.Go(func() error {
		<-groupCtx.Done()
		s.shutdown(httpSrv, pumpDone)
		return nil
	})

	err := group.Wait()
	if closeErr := s.Close(); closeErr != nil {
		s.logger.Error("Failed to close store", "error", closeErr)
	}
	s.logger.Info("Server exited")
	return err
}

// shutdown drains the pipeline front to back: HTTP, ingest workers,
// interceptor, replay runs and finally the event bus.
func (s *Server) shutdown(httpSrv *http.Server, pumpDone <-chan struct{}) {
	s.logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("Server forced to shutdown", "error", err)
	}
	s.cancelBase()
	s.procWG.Wait()
	s.interceptor.Close()
	<-pumpDone

	if s.web != nil {
		s.web.Close()
	}
	s.waitForRun(ctx)
	s.bus.Close()
	s.client.Close()
}

func (s *Server) waitForRun(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for s.orch.Running() {
		select {
		case <-ctx.Done():
			s.logger.Warn("Replay run still active at shutdown")
			return
		case <-ticker.C:
		}
	}
}

// Close releases the store
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancelBase()
		err = s.store.Close()
	})
	return err
}

// CheckPaths rejects an ingest path that would shadow the control API
func CheckPaths(cfg *config.Config) error {
	if !cfg.Web.Enable {
		return nil
	}
	ingest := normalizePath(cfg.Server.Path)
	admin := normalizePath(cfg.Web.AdminPath)
	if ingest == "/" || admin == "/" || hasPathPrefix(ingest, admin) || hasPathPrefix(admin, ingest) {
		return fmt.Errorf("server.path %q conflicts with web.admin_path %q", ingest, admin)
	}
	return nil
}

func hasPathPrefix(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

func busBuffer(cfg *config.Config) int {
	n := cfg.Replay.EventBuffer
	if cfg.Capture.Buffer > n {
		n = cfg.Capture.Buffer
	}
	if n < 16 {
		n = 16
	}
	return n
}
