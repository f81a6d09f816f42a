package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/cartsync/backend/config"
	httpDelivery "github.com/cartsync/backend/internal/delivery/http"
	"github.com/cartsync/backend/internal/domain"
	"github.com/cartsync/backend/internal/infrastructure/amazon"
	"github.com/cartsync/backend/internal/infrastructure/browser"
	"github.com/cartsync/backend/internal/infrastructure/cache"
	"github.com/cartsync/backend/internal/infrastructure/homeassistant"
	"github.com/cartsync/backend/internal/infrastructure/logger"
	"github.com/cartsync/backend/internal/infrastructure/staging"
	"github.com/cartsync/backend/internal/infrastructure/walmart"
	"github.com/cartsync/backend/internal/usecase"
)

type flags struct {
	configFile  string
	credentials string
	once        bool
	headed      bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := pflag.NewFlagSet("cartsync", pflag.ContinueOnError)
	fs.StringVarP(&f.configFile, "config", "c", "", "config file (default: config.yaml in ., ./config, /etc/cartsync)")
	fs.StringVar(&f.credentials, "credentials", "", "dotenv file with site credentials (default: "+config.DefaultCredentialsFile+" if present)")
	fs.BoolVar(&f.once, "once", false, "run a single cycle and exit")
	fs.BoolVar(&f.headed, "headed", false, "show the browser window")
	err := fs.Parse(args)
	return f, err
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "cartsync: %v\n", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	// Load configuration
	cfg, err := config.Load(config.Options{
		ConfigFile:      f.configFile,
		CredentialsFile: f.credentials,
		Headed:          f.headed,
	})
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.NewForEnvironment(cfg.Environment, logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting cartsync",
		zap.String("version", httpDelivery.Version),
		zap.String("environment", cfg.Environment),
		zap.Bool("once", f.once),
		zap.Bool("headless", cfg.Browser.Headless))
	if missing := cfg.MissingCredentials(); len(missing) > 0 {
		log.Warn("credentials not configured, relying on saved cookies", zap.Strings("missing", missing))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Staging must be readable before anything touches the sites
	store := staging.NewFileStore(cfg.Staging.Path, log)
	state := domain.NewMonitorState()
	record, err := store.Load(ctx)
	switch {
	case errors.Is(err, domain.ErrStagingNotFound):
	case err != nil:
		return fmt.Errorf("staging record %s: %w", store.Path(), err)
	default:
		log.Info("resuming from staging record",
			zap.String("cycle_id", record.CycleID),
			zap.Int("pending", len(record.Pending())),
			zap.Int("awaiting_clear", len(record.AwaitingClear())))
		state.Reconcile = true
	}

	// Browser and site adapters
	browserMgr := browser.NewManager(browser.Config{
		Headless:  cfg.Browser.Headless,
		RemoteURL: cfg.Browser.RemoteURL,
		Timeout:   cfg.Browser.Timeout,
	}, log)
	if err := browserMgr.Start(ctx); err != nil {
		return err
	}
	defer browserMgr.Close()

	jar := browser.NewCookieJar(cfg.Browser.CookiesDir)
	screenshots := browser.NewScreenshots(cfg.Browser.ScreenshotDir, log)

	list := amazon.NewClient(browserMgr, amazon.Config{
		BaseURL:    cfg.Amazon.BaseURL,
		ListURL:    cfg.Amazon.ListURL,
		SigninURL:  cfg.Amazon.SigninURL,
		Email:      cfg.Amazon.Email,
		Password:   cfg.Amazon.Password,
		OTPCommand: cfg.Amazon.OTPCommand,
	}, log)
	defer list.Close()
	listAuth := amazon.NewAuthenticator(list, jar, amazon.NewCommandOTP(cfg.Amazon.OTPCommand), log)

	walmartCfg := walmart.Config{
		BaseURL:         cfg.Walmart.BaseURL,
		SigninURL:       cfg.Walmart.SigninURL,
		Email:           cfg.Walmart.Email,
		Password:        cfg.Walmart.Password,
		SearchDelay:     cfg.Resolution.SearchDelay,
		HistoryMaxPages: cfg.Resolution.HistoryMaxPages,
	}
	storefront := walmart.NewStorefront(browserMgr, screenshots, walmartCfg, log)
	storeAuth := walmart.NewAuthenticator(browserMgr, jar, walmartCfg, log)

	// Core
	searchCache := cache.NewMemoryCache(cache.DefaultCleanupInterval)
	defer searchCache.Close()

	matcher := usecase.NewMatchEngine(usecase.MatchConfig{
		EnableFuzzyMatching: cfg.Matching.EnableFuzzy,
	}, log)
	resolver := usecase.NewResolutionEngine(matcher, searchCache, screenshots, usecase.ResolverConfig{
		MinMatchScore:         cfg.Matching.MinMatchScore,
		HistoryMatchScore:     cfg.Matching.HistoryMatchScore,
		MaxSequentialAttempts: cfg.Resolution.SearchFallbackMaxItems,
		TransientRetries:      cfg.Resolution.TransientRetries,
		SearchCacheTTL:        cfg.Resolution.SearchCacheTTL,
	}, log)

	notifier := homeassistant.NewSink(homeassistant.Config{
		URL:     cfg.Notify.HomeAssistant.URL,
		Token:   cfg.Notify.HomeAssistant.Token,
		Entity:  cfg.Notify.HomeAssistant.Entity,
		Timeout: cfg.Notify.HomeAssistant.Timeout,
	}, log)
	if ha, ok := notifier.(*homeassistant.Client); ok {
		if err := ha.Ping(ctx); err != nil {
			log.Warn("Home Assistant unreachable, notifications may fail", zap.Error(err))
		}
	}

	cycle := usecase.NewCycleRunner(list, storefront, resolver, store, notifier, log)

	refreshMin, refreshMax := cfg.Monitor.RefreshBounds()
	board := usecase.NewStatusBoard()
	scheduler := usecase.NewScheduler(list, cycle,
		[]domain.Authenticator{listAuth, storeAuth},
		state, board,
		usecase.SchedulerConfig{
			PollInterval:      cfg.Monitor.PollInterval(),
			RefreshMin:        refreshMin,
			RefreshMax:        refreshMax,
			MaxReauthAttempts: cfg.Monitor.MaxReauthAttempts,
		}, log)

	if cfg.Server.Enabled {
		srv := newStatusServer(cfg, board, store, log)
		defer shutdownServer(srv, log)
	}

	if err := scheduler.Authenticate(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("initial authentication: %w", err)
	}

	if f.once {
		report, err := scheduler.RunOnce(ctx)
		if report != nil {
			added, failed, deferred := report.Counts()
			log.Info("single cycle finished",
				zap.Int("added", added),
				zap.Int("failed", failed),
				zap.Int("deferred", deferred))
		}
		return err
	}

	return scheduler.Run(ctx)
}

// newStatusServer starts the status API in the background.
func newStatusServer(cfg *config.Config, board *usecase.StatusBoard, store domain.StagingStore, log *zap.Logger) *http.Server {
	handler := httpDelivery.NewHandler(board, store)
	router := httpDelivery.SetupRouter(cfg, handler, log.Named("http"))

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("status server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server failed", zap.Error(err))
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn("status server shutdown", zap.Error(err))
	}
}
