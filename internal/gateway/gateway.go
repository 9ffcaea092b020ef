// ABOUTME: Gateway wires the chat listener, router, AI orchestrator and admin servers together
// ABOUTME: Manages listeners (TCP or Tailscale), the errgroup of long-running loops and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"tailscale.com/ipn/ipnstate"
	"tailscale.com/tsnet"

	"github.com/2389/petchat-gateway/internal/ai"
	"github.com/2389/petchat-gateway/internal/config"
	"github.com/2389/petchat-gateway/internal/dedupe"
	"github.com/2389/petchat-gateway/internal/provider"
	"github.com/2389/petchat-gateway/internal/router"
	"github.com/2389/petchat-gateway/internal/session"
	"github.com/2389/petchat-gateway/internal/store"
	"github.com/2389/petchat-gateway/internal/trigger"
)

// shutdownTimeout bounds graceful shutdown once Run's context is canceled.
const shutdownTimeout = 5 * time.Second

// Gateway runs the petchat server: the framed chat listener plus the
// optional HTTP admin API and gRPC health service.
type Gateway struct {
	config       *config.Config
	store        store.Store
	registry     *session.Registry
	orchestrator *ai.Orchestrator
	router       *router.Router
	memories     *dedupe.Cache
	httpServer   *http.Server
	grpcServer   *grpc.Server
	health       *health.Server
	tsnetServer  *tsnet.Server
	logger       *slog.Logger
	started      time.Time

	// listeners are set once by Run before ready is closed
	listeners listenerSet
	ready     chan struct{}

	connMu   sync.Mutex
	conns    map[*session.Connection]struct{}
	closing  bool
	handlers sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// listenerSet holds the listeners for one Run. http and grpc may be nil.
type listenerSet struct {
	chat net.Listener
	http net.Listener
	grpc net.Listener
}

// Option customizes a Gateway at construction.
type Option func(*options)

type options struct {
	store    store.Store
	adapters map[provider.Kind]provider.Adapter
}

// WithStore uses s instead of opening the configured database.
func WithStore(s store.Store) Option {
	return func(o *options) { o.store = s }
}

// WithAdapter uses a for provider kind k instead of building one from config.
func WithAdapter(k provider.Kind, a provider.Adapter) Option {
	return func(o *options) {
		if o.adapters == nil {
			o.adapters = make(map[provider.Kind]provider.Adapter)
		}
		o.adapters[k] = a
	}
}

// initStore opens the configured SQLite database. PETCHAT_DB_PATH overrides
// database.path.
func initStore(cfg *config.Config) (store.Store, error) {
	dbPath := cfg.Database.Path
	if envPath := os.Getenv("PETCHAT_DB_PATH"); envPath != "" {
		dbPath = envPath
	}

	s, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}
	return s, nil
}

// initAdapters builds the adapter selected by provider.model unless one was
// injected.
func initAdapters(ctx context.Context, cfg *config.Config, injected map[provider.Kind]provider.Adapter) (map[provider.Kind]provider.Adapter, error) {
	if len(injected) > 0 {
		return injected, nil
	}
	kind, adapter, err := provider.New(ctx, cfg.ProviderSettings())
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", kind, err)
	}
	return map[provider.Kind]provider.Adapter{kind: adapter}, nil
}

// New creates a new Gateway instance with the given configuration.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	adapters, err := initAdapters(ctx, cfg, o.adapters)
	if err != nil {
		return nil, err
	}
	orchestrator, err := ai.New(cfg.OrchestratorConfig(), adapters, logger)
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	s := o.store
	if s == nil {
		if s, err = initStore(cfg); err != nil {
			return nil, err
		}
	}

	registry := session.NewRegistry(logger)
	memories := dedupe.New(cfg.AI.MemoryDedupeTTL, dedupe.DefaultMaxSize)

	gw := &Gateway{
		config:       cfg,
		store:        s,
		registry:     registry,
		orchestrator: orchestrator,
		memories:     memories,
		logger:       logger.With("component", "gateway"),
		started:      time.Now(),
		ready:        make(chan struct{}),
		conns:        make(map[*session.Connection]struct{}),
	}
	gw.router = router.New(router.Options{
		Registry:  registry,
		Scheduler: trigger.NewScheduler(cfg.TriggerConfig(), logger),
		Submitter: orchestrator,
		Store:     s,
		Memories:  memories,
		Logger:    logger,
	})

	if cfg.Server.HTTPAddr != "" || cfg.Tailscale.Enabled {
		gw.httpServer = &http.Server{
			Addr:              cfg.Server.HTTPAddr,
			Handler:           gw.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	if cfg.Server.GRPCAddr != "" {
		gw.grpcServer, gw.health = newHealthServer()
	}

	gw.logger.Info("gateway created",
		"provider", orchestrator.Provider(),
		"model", cfg.Provider.Model,
		"workers", cfg.AI.Workers,
	)
	return gw, nil
}

// Ready is closed once Run has bound its listeners.
func (g *Gateway) Ready() <-chan struct{} {
	return g.ready
}

// ChatAddr returns the bound chat address. Valid after Ready.
func (g *Gateway) ChatAddr() net.Addr {
	return g.listeners.chat.Addr()
}

// HTTPAddr returns the bound admin address, or nil when disabled. Valid after Ready.
func (g *Gateway) HTTPAddr() net.Addr {
	if g.listeners.http == nil {
		return nil
	}
	return g.listeners.http.Addr()
}

// GRPCAddr returns the bound gRPC health address, or nil when disabled. Valid after Ready.
func (g *Gateway) GRPCAddr() net.Addr {
	if g.listeners.grpc == nil {
		return nil
	}
	return g.listeners.grpc.Addr()
}

// Run binds the listeners and serves until ctx is canceled or a server
// fails. Returns nil on graceful shutdown.
func (g *Gateway) Run(ctx context.Context) error {
	ls, err := g.setupListeners(ctx)
	if err != nil {
		return err
	}
	g.listeners = ls
	close(g.ready)

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return g.orchestrator.Run(egCtx)
	})
	eg.Go(func() error {
		return g.router.Run(egCtx, g.orchestrator.Results())
	})
	eg.Go(func() error {
		return g.serveChat(egCtx, ls.chat)
	})
	if ls.http != nil {
		eg.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", ls.http.Addr().String())
			if err := g.httpServer.Serve(ls.http); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}
	if ls.grpc != nil {
		eg.Go(func() error {
			g.logger.Info("gRPC health server listening", "addr", ls.grpc.Addr().String())
			if err := g.grpcServer.Serve(ls.grpc); err != nil {
				return fmt.Errorf("gRPC server: %w", err)
			}
			return nil
		})
	}
	eg.Go(func() error {
		<-egCtx.Done()
		if ctx.Err() != nil {
			g.logger.Info("context canceled, initiating shutdown")
		}
		return g.gracefulShutdown()
	})

	return eg.Wait()
}

// setupListeners creates listeners based on configuration (Tailscale or TCP).
func (g *Gateway) setupListeners(ctx context.Context) (listenerSet, error) {
	if g.config.Tailscale.Enabled {
		g.warnIgnoredAddresses()
		return g.setupTailscaleListeners(ctx)
	}
	return g.setupTCPListeners()
}

// setupTCPListeners creates standard TCP listeners for the configured addresses.
func (g *Gateway) setupTCPListeners() (listenerSet, error) {
	cfg := g.config.Server
	g.logger.Info("starting gateway",
		"listen_addr", cfg.ListenAddr,
		"http_addr", cfg.HTTPAddr,
		"grpc_addr", cfg.GRPCAddr,
	)

	var ls listenerSet
	var err error
	ls.chat, err = net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return ls, fmt.Errorf("listening on chat address: %w", err)
	}

	if g.httpServer != nil {
		ls.http, err = net.Listen("tcp", cfg.HTTPAddr)
		if err != nil {
			ls.close()
			return listenerSet{}, fmt.Errorf("listening on HTTP address: %w", err)
		}
	}

	if g.grpcServer != nil {
		ls.grpc, err = net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			ls.close()
			return listenerSet{}, fmt.Errorf("listening on gRPC address: %w", err)
		}
	}

	return ls, nil
}

func (ls listenerSet) close() {
	for _, ln := range []net.Listener{ls.chat, ls.http, ls.grpc} {
		if ln != nil {
			_ = ln.Close()
		}
	}
}

// warnIgnoredAddresses logs a warning if server addresses are configured but Tailscale is enabled.
func (g *Gateway) warnIgnoredAddresses() {
	cfg := g.config.Server
	if cfg.ListenAddr != "" || cfg.HTTPAddr != "" || cfg.GRPCAddr != "" {
		g.logger.Warn("server addresses are ignored when tailscale is enabled",
			"listen_addr", cfg.ListenAddr,
			"http_addr", cfg.HTTPAddr,
			"grpc_addr", cfg.GRPCAddr,
		)
	}
}

// resolveTailscaleStateDir returns the state directory, using default if not configured.
func resolveTailscaleStateDir(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory for tailscale state (set tailscale.state_dir explicitly): %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "petchat-gateway", "tailscale"), nil
}

// resolveTailscaleAuthKey returns the auth key from config or environment.
func resolveTailscaleAuthKey(configured string) (string, error) {
	authKey := configured
	if authKey == "" {
		authKey = os.Getenv("TS_AUTHKEY")
	}
	if authKey == "" {
		return "", errors.New("tailscale auth key required: set auth_key in config or TS_AUTHKEY environment variable")
	}
	return authKey, nil
}

// setupTailscaleListeners joins the tailnet and listens there: chat on
// tailscale.port, HTTP on :80 and gRPC health on :50051.
func (g *Gateway) setupTailscaleListeners(ctx context.Context) (listenerSet, error) {
	tsCfg := g.config.Tailscale

	stateDir, err := resolveTailscaleStateDir(tsCfg.StateDir)
	if err != nil {
		return listenerSet{}, err
	}
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return listenerSet{}, fmt.Errorf("creating tailscale state dir: %w", err)
	}

	authKey, err := resolveTailscaleAuthKey(tsCfg.AuthKey)
	if err != nil {
		return listenerSet{}, err
	}

	g.tsnetServer = &tsnet.Server{
		Hostname:  tsCfg.Hostname,
		Dir:       stateDir,
		Ephemeral: tsCfg.Ephemeral,
		AuthKey:   authKey,
	}

	g.logger.Info("starting tailscale node", "hostname", tsCfg.Hostname, "state_dir", stateDir, "ephemeral", tsCfg.Ephemeral)
	status, err := g.tsnetServer.Up(ctx)
	if err != nil {
		_ = g.tsnetServer.Close()
		return listenerSet{}, fmt.Errorf("starting tailscale: %w", err)
	}
	g.logTailscaleStatus(tsCfg.Hostname, status)

	var ls listenerSet
	fail := func(what string, err error) (listenerSet, error) {
		ls.close()
		_ = g.tsnetServer.Close()
		return listenerSet{}, fmt.Errorf("listening on tailscale %s port: %w", what, err)
	}

	if ls.chat, err = g.tsnetServer.Listen("tcp", ":"+strconv.Itoa(tsCfg.Port)); err != nil {
		return fail("chat", err)
	}
	if g.httpServer != nil {
		if ls.http, err = g.tsnetServer.Listen("tcp", ":80"); err != nil {
			return fail("HTTP", err)
		}
	}
	if g.grpcServer != nil {
		if ls.grpc, err = g.tsnetServer.Listen("tcp", ":50051"); err != nil {
			return fail("gRPC", err)
		}
	}
	return ls, nil
}

// logTailscaleStatus logs info about the tailscale node status.
func (g *Gateway) logTailscaleStatus(hostname string, status *ipnstate.Status) {
	var tsAddr, dnsName string
	if len(status.TailscaleIPs) > 0 {
		tsAddr = status.TailscaleIPs[0].String()
	} else {
		g.logger.Warn("tailscale node has no IP addresses assigned")
	}
	if status.Self != nil {
		dnsName = status.Self.DNSName
	}
	g.logger.Info("tailscale node ready", "hostname", hostname, "tailscale_ip", tsAddr, "dns_name", dnsName)
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
// Uses context.Background() since Run's context is already canceled.
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return g.Shutdown(ctx)
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	g.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// Shutdown stops accepting, disconnects every session and releases
// resources. It is safe to call more than once; later calls return the
// first result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway", "sessions", g.registry.Len())

	var errs []error
	if g.listeners.chat != nil {
		if err := g.listeners.chat.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = appendCloseError(errs, "chat listener close", err)
		}
	}
	g.disconnectAll(ctx)

	if g.httpServer != nil {
		errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))
	}
	if g.grpcServer != nil {
		g.shutdownGRPCServer(ctx)
	}
	if g.tsnetServer != nil {
		errs = appendCloseError(errs, "tailscale shutdown", g.tsnetServer.Close())
	}

	g.memories.Close()
	errs = appendCloseError(errs, "store close", g.store.Close())

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
