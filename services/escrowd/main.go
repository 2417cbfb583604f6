package escrowd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Ayush1832/tg-escrow-bot-sub001/core/events"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/mailbox"
	"github.com/Ayush1832/tg-escrow-bot-sub001/core/state"
	nativecommon "github.com/Ayush1832/tg-escrow-bot-sub001/native/common"
	"github.com/Ayush1832/tg-escrow-bot-sub001/native/escrow"
	"github.com/Ayush1832/tg-escrow-bot-sub001/observability"
	"github.com/Ayush1832/tg-escrow-bot-sub001/observability/logging"
	telemetry "github.com/Ayush1832/tg-escrow-bot-sub001/observability/otel"
	"github.com/Ayush1832/tg-escrow-bot-sub001/services/escrowd/wallet"
	"github.com/Ayush1832/tg-escrow-bot-sub001/storage"
)

// Main initialises and runs the escrow daemon.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/escrowd/config.yaml", "path to escrowd configuration")
	flag.Parse()

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	level, _ := parseLevel(cfg.Logging.Level)
	logger, logCloser := logging.SetupWithOptions("escrowd", cfg.Environment, logging.Options{
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Level:      level,
	})
	defer logCloser.Close()

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	db, err := storage.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()
	trades := state.NewManager(db)

	auditDB, err := OpenAuditDB(cfg.Audit)
	if err != nil {
		return err
	}
	if sqlDB, err := auditDB.DB(); err == nil {
		defer sqlDB.Close()
	}
	audit, err := NewAuditLog(auditDB)
	if err != nil {
		return err
	}

	metrics := observability.Escrow()
	pauses := nativecommon.NewPauses()
	bus := events.NewBus()
	engine := escrow.NewEngine()
	engine.SetState(trades)
	engine.SetEmitter(bus)
	engine.SetPauses(pauses)

	box := mailbox.New[[32]byte](
		mailbox.WithIdleTimeout(cfg.Mailbox.IdleTimeout.Duration),
		mailbox.WithQueueSize(cfg.Mailbox.QueueSize),
	)
	defer box.Close()

	service, err := NewService(ServiceConfig{
		Engine:  engine,
		Trades:  trades,
		Mailbox: box,
		Pauses:  pauses,
		Audit:   audit,
		Metrics: metrics,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	dispatcher := NewDispatcher(
		func(ctx context.Context, id [32]byte, result escrow.TransferResult) error {
			return service.ReportTransfer(ctx, Call{Name: "dispatcher"}, id, result)
		},
		WithWallet(newWallet(cfg.Wallet)),
		WithMetrics(metrics),
		WithLogger(logger),
		WithWorkers(cfg.Dispatcher.Workers),
		WithConfirmations(cfg.Dispatcher.Confirmations),
		WithPollInterval(cfg.Dispatcher.PollInterval.Duration),
		WithReportTimeout(cfg.Dispatcher.ReportTimeout.Duration),
	)
	if cfg.Dispatcher.PauseOnStart {
		dispatcher.Pause()
	}
	engine.SetOutbox(dispatcher)

	auth, err := NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		return err
	}
	server := NewServer(ServerConfig{
		Service:        service,
		Dispatcher:     dispatcher,
		Bus:            bus,
		Auth:           auth,
		Limiter:        NewRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst),
		TransportScope: cfg.Auth.TransportScope,
		OperatorScope:  cfg.Auth.OperatorScope,
		Logger:         logger,
	})
	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(server.Handler(), "escrowd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = dispatcher.Run(dispatchCtx)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	errs := make(chan error, 1)
	go func() {
		logger.Info("escrowd listening", "addr", cfg.ListenAddress, "storage", cfg.Storage.Backend, "wallet", cfg.Wallet.Mode)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func telemetryConfig(cfg Config) telemetry.Config {
	endpoint := cfg.Telemetry.Endpoint
	if env := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")); env != "" {
		endpoint = env
	}
	insecure := cfg.Telemetry.Insecure
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	return telemetry.Config{
		ServiceName: "escrowd",
		Environment: cfg.Environment,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	}
}

// newWallet builds the disbursement transport. The reject wallet bounces
// every transfer until a real transport is wired in.
func newWallet(cfg WalletConfig) wallet.Wallet {
	if cfg.Mode == walletModeReject {
		return wallet.FuncWallet{
			SendFunc: func(context.Context, escrow.Transfer) (string, error) {
				return "", fmt.Errorf("disbursement wallet not configured")
			},
		}
	}
	slog.Warn("using in-memory ledger wallet; credits are not persisted")
	return wallet.NewLedger()
}
