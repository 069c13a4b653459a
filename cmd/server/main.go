package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"blockd.dev/internal/chat"
	"blockd.dev/internal/discovery"
	"blockd.dev/internal/logging"
	persistlog "blockd.dev/internal/persistence/log"
	"blockd.dev/internal/persistence/mapstore"
	"blockd.dev/internal/sim/catalogs"
	"blockd.dev/internal/sim/game"
	"blockd.dev/internal/sim/stream"
	"blockd.dev/internal/sim/tuning"
	"blockd.dev/internal/sim/world"
	"blockd.dev/internal/transport/ws"
)

func main() {
	// A missing .env is fine; it only supplies BLOCKD_* defaults.
	_ = godotenv.Load(".env")

	var (
		addr       = flag.String("addr", envString("BLOCKD_ADDR", ":8080"), "http listen address")
		configDir  = flag.String("configs", envString("BLOCKD_CONFIGS", "./configs"), "config directory (blocks.json, tuning.yaml)")
		tuningPath = flag.String("tuning", envString("BLOCKD_TUNING", ""), "path to tuning.yaml (default: <configs>/tuning.yaml)")
		dataDir    = flag.String("data", envString("BLOCKD_DATA", "./data"), "runtime data directory (audit log, relative map store paths)")
		storeKind  = flag.String("store", envString("BLOCKD_MAP_STORE", ""), "map store override: memory|dir|sqlite")
		logLevel   = flag.String("log_level", envString("BLOCKD_LOG_LEVEL", ""), "log level override")
		browserTok = flag.String("discovery_token", envString("BLOCKD_DISCOVERY_TOKEN", ""), "bearer token for the server browser")
	)
	flag.Parse()

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load tuning: %v\n", err)
		os.Exit(1)
	}
	if *storeKind != "" {
		tune.MapStore.Kind = *storeKind
	}
	if *logLevel != "" {
		tune.Logging.Level = *logLevel
	}
	if err := tune.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "tuning: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(tune.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(runConfig{
		Addr:           *addr,
		ConfigDir:      *configDir,
		DataDir:        *dataDir,
		DiscoveryToken: *browserTok,
		EnableAdmin:    envBool("BLOCKD_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()),
	}, tune, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

type runConfig struct {
	Addr           string
	ConfigDir      string
	DataDir        string
	DiscoveryToken string
	EnableAdmin    bool
}

func run(rc runConfig, tune tuning.Tuning, logger *zap.Logger) error {
	blocks, err := catalogs.Load(rc.ConfigDir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load blocks: %w", err)
		}
		logger.Warn("blocks.json not found, using built-in palette", zap.String("configs", rc.ConfigDir))
		blocks = catalogs.Default()
	}

	wcfg, err := world.ConfigFromTuning(tune, blocks)
	if err != nil {
		return fmt.Errorf("world config: %w", err)
	}

	storePath := tune.MapStore.Path
	if storePath != "" && !filepath.IsAbs(storePath) {
		storePath = filepath.Join(rc.DataDir, storePath)
	}
	store, err := mapstore.Open(tune.MapStore.Kind, storePath, logger)
	if err != nil {
		return fmt.Errorf("open map store: %w", err)
	}
	w := world.New(wcfg, store, blocks, logger)

	cache, err := stream.NewCache(tune.Stream.CacheMaxBytes, tune.Stream.CacheNumCounter)
	if err != nil {
		_ = w.Close()
		return fmt.Errorf("chunk cache: %w", err)
	}
	defer cache.Close()

	audit := persistlog.NewAuditLogger(rc.DataDir, 0)
	defer audit.Close()

	transport := ws.NewServer(ws.ConfigFromTuning(tune, blocks), logger)
	srv := game.New(game.ConfigFromTuning(tune), transport, w, game.Options{
		Chat:       chat.NewHub(transport, tune.Chat.MaxLen),
		Audit:      audit,
		ChunkCache: cache,
		Logger:     logger,
	})

	ctx, cancel := signalContext()
	defer cancel()

	tickDone := make(chan error, 1)
	go func() { tickDone <- srv.Run(ctx) }()

	if ep := strings.TrimSpace(tune.Browser.Endpoint); ep != "" {
		hb := &discovery.Heartbeat{
			Client:   discovery.NewClient(ep, rc.DiscoveryToken, 10*time.Second),
			Interval: time.Duration(tune.Browser.IntervalSeconds) * time.Second,
			Base: discovery.Listing{
				Name:       tune.Browser.ServerName,
				Addr:       tune.Browser.PublicAddr,
				MaxPlayers: tune.Session.MaxPlayers,
			},
			Roster: srv.Roster,
			Logger: logger,
		}
		go func() { _ = hb.Run(ctx) }()
	} else {
		logger.Info("server browser disabled (discovery.endpoint empty)")
	}

	mux := newMux(httpDeps{
		game:        srv,
		transport:   transport,
		cache:       cache,
		audit:       audit,
		enableAdmin: rc.EnableAdmin,
		log:         logger,
	})
	httpSrv := &http.Server{
		Addr:              rc.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		transport.Close()
		_ = httpSrv.Shutdown(ctx2)
	}()

	logger.Info("listening",
		zap.String("addr", rc.Addr),
		zap.Int("tick_rate_hz", tune.TickRateHz),
		zap.String("map_store", tune.MapStore.Kind),
		zap.String("blocks_digest", blocks.Digest),
	)
	serveErr := httpSrv.ListenAndServe()
	if errors.Is(serveErr, http.ErrServerClosed) {
		serveErr = nil
	}

	// The tick goroutine owns the world; wait for it before saving.
	cancel()
	if err := <-tickDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("tick loop", zap.Error(err))
	}
	if err := w.Close(); err != nil {
		logger.Error("save world", zap.Error(err))
	}
	st := w.Stats()
	logger.Info("world saved", zap.Uint64("chunks_saved", st.ChunksSaved), zap.Uint64("store_errors", st.StoreErrors))
	return serveErr
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
