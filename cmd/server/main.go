package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"

	"prompos/terminal/internal/cart"
	"prompos/terminal/internal/checkout"
	"prompos/terminal/internal/config"
	"prompos/terminal/internal/httpapi"
	"prompos/terminal/internal/identity"
	"prompos/terminal/internal/logger"
	"prompos/terminal/internal/metrics"
	"prompos/terminal/internal/notify"
	"prompos/terminal/internal/persist"
	"prompos/terminal/internal/service"
	"prompos/terminal/internal/store"
	fsstore "prompos/terminal/internal/store/firestore"
	"prompos/terminal/internal/store/memory"
	pgstore "prompos/terminal/internal/store/postgres"
)

const serviceName = "pos-terminal"

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceName})

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg := logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.LogLevel),
		Format:      cfg.LogFormat,
	})
	if err := validateSecurityConfig(cfg); err != nil {
		logg.Error(context.Background(), "invalid security configuration", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":     cfg.AppEnv,
		"shop_id": cfg.ShopID,
	})

	a, err := newApp(ctx, cfg, logg)
	if err != nil {
		logg.Error(ctx, "failed to start terminal", err)
		os.Exit(1)
	}
	if err := a.run(ctx); err != nil {
		logg.Error(ctx, "terminal stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "terminal shut down gracefully")
}

type app struct {
	logg       *logger.Logger
	server     *http.Server
	reconciler *checkout.Reconciler
	closers    []func() error
}

func newApp(ctx context.Context, cfg config.Config, logg *logger.Logger) (_ *app, err error) {
	initCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	a := &app{logg: logg}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.close())
		}
	}()

	remote, dir, err := a.openRemote(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	kv, err := a.openLocal(initCtx, cfg)
	if err != nil {
		return nil, err
	}
	local := persist.NewAdapter(kv)
	a.closers = append(a.closers, local.Close)

	catalog := cart.DefaultCatalog()
	if cfg.MenuFile != "" {
		if catalog, err = cart.LoadCatalogFile(cfg.MenuFile); err != nil {
			return nil, err
		}
	}

	var google identity.TokenValidator
	if cfg.GoogleClientID != "" {
		if google, err = identity.NewGoogleValidator(initCtx); err != nil {
			return nil, fmt.Errorf("google validator: %w", err)
		}
	}
	ident, err := identity.New(identity.Params{
		Directory:      dir,
		Guests:         local,
		Google:         google,
		GoogleClientID: cfg.GoogleClientID,
		Logger:         logg,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checkoutMetrics := metrics.NewCheckoutMetrics(reg)

	feed := notify.NewFeed(100)
	gate := checkout.NewSwitch(!cfg.ForceOffline)

	svc, err := service.New(service.Params{
		ShopID:            cfg.ShopID,
		ShopName:          cfg.ShopName,
		TaxRate:           cfg.TaxRate(),
		Location:          cfg.Location(),
		Catalog:           catalog,
		Persist:           local,
		Remote:            remote,
		Reachability:      checkout.NewProbe(remote, cfg.ReachabilityTimeout, gate),
		Identity:          ident,
		Notifier:          notify.Multi{notify.NewLogNotifier(logg), feed},
		Metrics:           checkoutMetrics,
		Logger:            logg,
		RemoteTimeout:     cfg.RemoteTimeout,
		ReconcileInterval: cfg.ReconcileInterval,
	})
	if err != nil {
		return nil, err
	}
	if err := svc.Restore(initCtx); err != nil {
		return nil, fmt.Errorf("restore local state: %w", err)
	}
	a.reconciler = svc.Reconciler()

	api, err := httpapi.New(httpapi.Params{
		Service:       svc,
		Identity:      ident,
		Auth:          httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL),
		Feed:          feed,
		Metrics:       promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AllowedOrigin: cfg.AllowedOrigin,
		Currency:      cfg.Currency,
		Logger:        logg,
	})
	if err != nil {
		return nil, err
	}

	a.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      2*cfg.RemoteTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return a, nil
}

// openRemote selects the remote store and the account directory that goes with it.
func (a *app) openRemote(ctx context.Context, cfg config.Config) (store.Repository, identity.Directory, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, fmt.Errorf("postgres schema: %w", err)
		}
		if cfg.SeedUserEmail != "" {
			user, err := identity.NewUser(cfg.SeedUserEmail, cfg.SeedUserPassword, "Cashier")
			if err != nil {
				return nil, nil, err
			}
			if err := pg.CreateUser(ctx, user); err != nil {
				return nil, nil, fmt.Errorf("seed user: %w", err)
			}
		}
		a.logg.Info(ctx, "remote store: postgres")
		return pg, pg, nil
	case config.StoreDriverFirestore:
		fs, err := fsstore.New(ctx, cfg.FirestoreProjectID, cfg.FirestoreCredentialsFile)
		if err != nil {
			return nil, nil, fmt.Errorf("firestore unavailable: %w", err)
		}
		a.closers = append(a.closers, fs.Close)
		dir, err := seededDirectory(cfg)
		if err != nil {
			return nil, nil, err
		}
		a.logg.Info(ctx, "remote store: firestore")
		return fs, dir, nil
	default:
		dir, err := seededDirectory(cfg)
		if err != nil {
			return nil, nil, err
		}
		a.logg.Info(ctx, "remote store: in-memory")
		return memory.New(), dir, nil
	}
}

func seededDirectory(cfg config.Config) (*identity.MemoryDirectory, error) {
	dir := identity.NewMemoryDirectory()
	if cfg.SeedUserEmail == "" {
		return dir, nil
	}
	if _, err := dir.AddUser(cfg.SeedUserEmail, cfg.SeedUserPassword, "Cashier"); err != nil {
		return nil, fmt.Errorf("seed user: %w", err)
	}
	return dir, nil
}

func (a *app) openLocal(ctx context.Context, cfg config.Config) (persist.KV, error) {
	switch cfg.PersistDriver {
	case config.PersistDriverRedis:
		kv := persist.NewRedisKV(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ShopID)
		if err := kv.Ping(ctx); err != nil {
			_ = kv.Close()
			return nil, fmt.Errorf("redis unavailable: %w", err)
		}
		a.logg.Info(ctx, "local persistence: redis")
		return kv, nil
	case config.PersistDriverMemory:
		a.logg.Warn(ctx, "local persistence: memory; state is lost on restart", nil)
		return persist.NewMemoryKV(), nil
	default:
		kv, err := persist.NewFileKV(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		a.logg.Info(a.logg.WithField(ctx, "dir", cfg.DataDir), "local persistence: file")
		return kv, nil
	}
}

func (a *app) run(ctx context.Context) error {
	go func() {
		if err := a.reconciler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.logg.Error(ctx, "reconciler stopped unexpectedly", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() {
		a.logg.Info(a.logg.WithField(ctx, "addr", a.server.Addr), "terminal listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	err = multierr.Append(err, a.server.Shutdown(shutdownCtx))
	return multierr.Append(err, a.close())
}

// close runs closers in reverse order of opening.
func (a *app) close() error {
	var err error
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, a.closers[i]())
	}
	a.closers = nil
	return err
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("POS_AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.IsProd() {
		if strings.TrimSpace(cfg.AllowedOrigin) == "*" {
			return fmt.Errorf("POS_ALLOWED_ORIGIN must name the terminal UI origin in prod")
		}
		if cfg.PersistDriver == config.PersistDriverMemory {
			return fmt.Errorf("POS_PERSIST_DRIVER=memory loses unsent orders on restart; not allowed in prod")
		}
	}
	if cfg.SeedUserEmail == "" {
		return nil
	}
	if len(cfg.SeedUserPassword) < 8 {
		return fmt.Errorf("POS_SEED_USER_PASSWORD must be at least 8 characters")
	}
	if err := validatePasswordStrength(cfg.SeedUserPassword); err != nil {
		return fmt.Errorf("POS_SEED_USER_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength rejects well-known passwords and single-character repeats.
func validatePasswordStrength(password string) error {
	known := map[string]bool{
		"password": true, "password1": true, "12345678": true, "123456789": true,
		"qwertyui": true, "qwerty123": true, "admin123": true, "cashier1": true,
		"11111111": true, "00000000": true, "abcdefgh": true, "letmein1": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}

	allSame := true
	for i := 1; i < len(password); i++ {
		if password[i] != password[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("repeated-character password not allowed")
	}
	return nil
}
