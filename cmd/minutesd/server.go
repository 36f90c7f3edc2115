package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/minutes/internal/config"
	"github.com/MarkoPoloResearchLab/minutes/internal/gateway/cashfree"
	"github.com/MarkoPoloResearchLab/minutes/internal/gateway/simulated"
	"github.com/MarkoPoloResearchLab/minutes/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/minutes/internal/httpapi"
	"github.com/MarkoPoloResearchLab/minutes/internal/oplog"
	"github.com/MarkoPoloResearchLab/minutes/internal/reconcile"
	"github.com/MarkoPoloResearchLab/minutes/internal/responder"
	"github.com/MarkoPoloResearchLab/minutes/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/minutes/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/minutes/pkg/minutes"
	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"
)

func runServer(ctx context.Context, cfg config.Config) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, cleanup, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := cleanup(); closeErr != nil {
			logger.Warn("database close error", zap.Error(closeErr))
		}
	}()

	gateway, err := buildGateway(cfg)
	if err != nil {
		return fmt.Errorf("gateway init: %w", err)
	}
	if cfg.GatewayMode == config.GatewayModeSimulated {
		logger.Warn("simulated payment gateway enabled; orders settle without charging")
	}

	operationOption := minutes.WithOperationLogger(oplog.New(logger))
	clock := time.Now
	catalog, err := minutes.NewCatalog(store, operationOption)
	if err != nil {
		return fmt.Errorf("catalog init: %w", err)
	}
	if err := catalog.Seed(ctx, minutes.DefaultPackages()); err != nil {
		return fmt.Errorf("catalog seed: %w", err)
	}
	meter, err := minutes.NewMeter(store, clock, operationOption)
	if err != nil {
		return fmt.Errorf("meter init: %w", err)
	}
	settlement, err := minutes.NewSettlement(store, gateway, clock, minutes.SettlementConfig{
		ReturnURL:      cfg.ReturnURL,
		NotifyURL:      cfg.NotifyURL,
		GatewayTimeout: cfg.GatewayTimeout,
	}, operationOption)
	if err != nil {
		return fmt.Errorf("settlement init: %w", err)
	}
	chatResponder := responder.New(responder.Config{
		APIKey:         cfg.Responder.APIKey,
		BaseURL:        cfg.Responder.BaseURL,
		Model:          cfg.Responder.Model,
		RequestTimeout: cfg.Responder.Timeout,
	}, logger)
	sessions, err := minutes.NewSessions(store, chatResponder, clock, minutes.SessionsConfig{
		MinutesPerExchange: minutes.Minutes(cfg.MinutesPerExchange),
	}, operationOption)
	if err != nil {
		return fmt.Errorf("sessions init: %w", err)
	}

	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return fmt.Errorf("session validator: %w", err)
	}
	handler, err := httpapi.NewHandler(httpapi.Dependencies{
		Logger:     logger,
		Meter:      meter,
		Catalog:    catalog,
		Settlement: settlement,
		Sessions:   sessions,
	})
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(httpapi.RouterConfig{AllowedOrigins: cfg.AllowedOrigins}, handler, validator)

	if cfg.Reconcile.Enabled {
		reconciler, err := reconcile.New(settlement, logger, reconcile.Config{
			Interval:  cfg.Reconcile.Interval,
			OlderThan: cfg.Reconcile.OlderThan,
			BatchSize: cfg.Reconcile.BatchSize,
		})
		if err != nil {
			return fmt.Errorf("reconciler init: %w", err)
		}
		if err := reconciler.Start(ctx); err != nil {
			return fmt.Errorf("reconciler start: %w", err)
		}
		defer reconciler.Stop()
	}

	listener, err := net.Listen("tcp", cfg.GRPCListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	grpcServer := grpc.NewServer()
	grpcserver.RegisterMeterServiceServer(grpcServer, grpcserver.NewMeterServer(meter, catalog))

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	grpcErrCh := make(chan error, 1)
	go func() {
		logger.Info("gRPC server starting", zap.String("listen_addr", cfg.GRPCListenAddr))
		grpcErrCh <- grpcServer.Serve(listener)
	}()
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- httpapi.Serve(serveCtx, cfg.HTTPListenAddr, router, logger)
	}()

	var (
		runErr     error
		grpcExited bool
		httpExited bool
	)
	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case serveErr := <-grpcErrCh:
		grpcExited = true
		runErr = grpcServeError(serveErr)
	case serveErr := <-httpErrCh:
		httpExited = true
		if serveErr != nil {
			runErr = fmt.Errorf("http serve: %w", serveErr)
		}
	}
	cancel()
	grpcServer.GracefulStop()
	if !grpcExited {
		if serveErr := grpcServeError(<-grpcErrCh); serveErr != nil && runErr == nil {
			runErr = serveErr
		}
	}
	if !httpExited {
		if serveErr := <-httpErrCh; serveErr != nil && runErr == nil {
			runErr = fmt.Errorf("http serve: %w", serveErr)
		}
	}
	return runErr
}

func grpcServeError(err error) error {
	if err == nil || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return fmt.Errorf("grpc serve: %w", err)
}

func buildGateway(cfg config.Config) (minutes.Gateway, error) {
	switch cfg.GatewayMode {
	case config.GatewayModeSimulated:
		return simulated.New(), nil
	case config.GatewayModeCashfree:
		baseURL := cfg.Cashfree.BaseURL
		if baseURL == "" && cfg.Environment == config.EnvironmentProduction {
			baseURL = cashfree.ProductionBaseURL
		}
		client, err := cashfree.New(cashfree.Config{
			BaseURL:        baseURL,
			ClientID:       cfg.Cashfree.ClientID,
			ClientSecret:   cfg.Cashfree.ClientSecret,
			WebhookSecret:  cfg.Cashfree.WebhookSecret,
			APIVersion:     cfg.Cashfree.APIVersion,
			RequestTimeout: cfg.GatewayTimeout,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.GatewayMode)
	}
}

// openStore returns the configured minutes.Store with its schema in place.
func openStore(ctx context.Context, cfg config.Config) (minutes.Store, func() error, error) {
	if cfg.StoreBackend == config.StoreBackendPgx {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("database open: %w", err)
		}
		store := pgstore.New(pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return store, func() error { pool.Close(); return nil }, nil
	}

	gormDB, cleanup, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database open: %w", err)
	}
	store := gormstore.New(gormDB)
	if err := store.AutoMigrate(ctx); err != nil {
		_ = cleanup()
		return nil, nil, err
	}
	return store, cleanup, nil
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case driverPostgres:
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case driverSQLite:
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
	default:
		return nil, nil, fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return driverPostgres, "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "minutes.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return driverSQLite, sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return driverSQLite, sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
