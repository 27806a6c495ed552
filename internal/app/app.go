// Package app wires the relay together and owns its startup and shutdown
// order.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"bean-relay/internal/application/ingress"
	"bean-relay/internal/config"
	"bean-relay/internal/infrastructure/hub"
	"bean-relay/internal/infrastructure/logger"
	"bean-relay/internal/infrastructure/metrics"
	"bean-relay/internal/infrastructure/server"
)

const defaultShutdownTimeout = 5 * time.Second

// ErrNoUpstream is returned when the relay is not relay-only but no upstream
// subscriber was supplied.
var ErrNoUpstream = errors.New("no upstream subscriber configured")

type State int32

const (
	StateStarting State = iota
	StateRunning
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Upstream is the platform subscription that feeds events into the relay.
// Start returns once the subscription is established; events are then
// delivered to handler until Stop.
type Upstream interface {
	Start(ctx context.Context, handler ingress.EventHandler) error
	Stop(ctx context.Context) error
}

// Source is an auxiliary event feed that runs until ctx is cancelled. Unlike
// Upstream it also runs in relay-only mode and its failures are not fatal.
type Source interface {
	Name() string
	Run(ctx context.Context, handler ingress.EventHandler) error
}

type Application struct {
	cfg    *config.Config
	logger logger.Logger

	upstream        Upstream
	sources         []Source
	shutdownTimeout time.Duration

	state atomic.Int32
	ready chan struct{}

	mu          sync.Mutex
	connAddr    string
	overlayAddr string
}

type Option func(*Application)

func WithUpstream(u Upstream) Option {
	return func(a *Application) {
		a.upstream = u
	}
}

func WithSource(s Source) Option {
	return func(a *Application) {
		a.sources = append(a.sources, s)
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(a *Application) {
		if d > 0 {
			a.shutdownTimeout = d
		}
	}
}

func New(cfg *config.Config, log logger.Logger, opts ...Option) *Application {
	app := &Application{
		cfg:             cfg,
		logger:          log.WithField("app", "bean-relay"),
		shutdownTimeout: defaultShutdownTimeout,
		ready:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	return app
}

func (app *Application) State() State {
	return State(app.state.Load())
}

// Ready is closed once the application reaches the running state.
func (app *Application) Ready() <-chan struct{} {
	return app.ready
}

// ConnectionAddr is the bound address of the overlay connection endpoint.
func (app *Application) ConnectionAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.connAddr
}

// OverlayAddr is the bound address of the overlay page endpoint.
func (app *Application) OverlayAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.overlayAddr
}

func (app *Application) setState(s State) {
	app.state.Store(int32(s))
	app.logger.Debugf("State changed to %s", s)
}

// Run starts every component, blocks until ctx is cancelled and then drains.
// Startup failures are returned after whatever was already started has been
// torn down. A clean drain returns nil.
func (app *Application) Run(ctx context.Context) error {
	app.setState(StateStarting)
	defer app.setState(StateStopped)

	if err := config.Validate(app.cfg); err != nil {
		return err
	}
	relayOnly := app.cfg.Relay.RelayOnly
	if !relayOnly && app.upstream == nil {
		return ErrNoUpstream
	}

	if app.cfg.Log.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	exporter, err := metrics.NewPrometheusExporter("", app.logger)
	if err != nil {
		return err
	}
	defer exporter.Close()

	hubInstance := hub.New(
		hub.NewRegistry(),
		app.logger,
		hub.WithSendTimeout(app.cfg.SendTimeout()),
		hub.WithRecorder(metrics.NewRecorder(app.logger)),
	)
	if err := hubInstance.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start hub: %w", err)
	}
	stopHub := func() {
		sctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()
		if err := hubInstance.Stop(sctx); err != nil {
			app.logger.Errorf("Failed to stop hub: %v", err)
		}
	}
	defer stopHub()

	adapter := ingress.NewAdapter(hubInstance, app.logger)

	// Streaming connections outlive any write timeout. Once the listener is
	// closed the hub ends them so Shutdown does not wait on open streams.
	connSrv := server.NewHTTPServer(
		app.cfg.ListenAddress(),
		InitConnectionRouter(hubInstance, app.logger),
		server.WithWriteTimeout(0),
		server.WithOnShutdown(stopHub),
	)
	overlaySrv := server.NewHTTPServer(
		app.cfg.OverlayAddress(),
		InitOverlayRouter(app.cfg.Relay.OverlayPage, hubInstance, adapter, exporter.Handler(), app.logger),
	)

	if err := connSrv.Listen(); err != nil {
		return fmt.Errorf("failed to bind connection endpoint: %w", err)
	}
	if err := overlaySrv.Listen(); err != nil {
		app.stopServer("connection", connSrv)
		return fmt.Errorf("failed to bind overlay endpoint: %w", err)
	}

	app.mu.Lock()
	app.connAddr = connSrv.Addr()
	app.overlayAddr = overlaySrv.Addr()
	app.mu.Unlock()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return connSrv.Start(egCtx)
	})
	eg.Go(func() error {
		return overlaySrv.Start(egCtx)
	})
	app.logger.Infof("Relay listening on ws://%s", app.ConnectionAddr())
	app.logger.Infof("Serving overlay on http://%s", app.OverlayAddr())

	if relayOnly {
		app.logger.Info("Relay-only mode enabled; not connecting to Twitch")
	} else {
		app.logger.Info("Connecting to Twitch...")
		if err := app.upstream.Start(ctx, adapter); err != nil {
			app.stopServer("connection", connSrv)
			app.stopServer("overlay", overlaySrv)
			_ = eg.Wait()
			return fmt.Errorf("failed to start upstream subscription: %w", err)
		}
	}

	sourceCtx, cancelSources := context.WithCancel(context.Background())
	var sources sync.WaitGroup
	for _, src := range app.sources {
		sources.Add(1)
		go func() {
			defer sources.Done()
			if err := src.Run(sourceCtx, adapter); err != nil {
				app.logger.Errorf("Event source %s stopped: %v", src.Name(), err)
			}
		}()
	}

	app.setState(StateRunning)
	close(app.ready)

	<-egCtx.Done()

	app.setState(StateDraining)
	app.logger.Info("Stopping...")

	if !relayOnly {
		sctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		if err := app.upstream.Stop(sctx); err != nil {
			app.logger.Errorf("Failed to stop upstream subscription: %v", err)
		}
		cancel()
	}
	cancelSources()
	sources.Wait()

	app.stopServer("connection", connSrv)
	app.stopServer("overlay", overlaySrv)

	if err := eg.Wait(); err != nil {
		return err
	}
	app.logger.Info("Relay stopped")
	return nil
}

func (app *Application) stopServer(name string, srv server.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		app.logger.Errorf("Failed to stop %s server: %v", name, err)
	}
}
