package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"prompos/terminal/internal/config"
	"prompos/terminal/internal/logger"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected short auth secret to be rejected")
	}

	err = validateSecurityConfig(config.Config{
		AuthSecret:       "0123456789abcdef0123456789abcdef",
		SeedUserEmail:    "cashier@example.com",
		SeedUserPassword: "password",
	})
	if err == nil {
		t.Fatalf("expected common seed password to be rejected")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:       "0123456789abcdef0123456789abcdef",
		SeedUserEmail:    "cashier@example.com",
		SeedUserPassword: "t1ll-drawer-42",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}

func TestValidateSecurityConfigProdRules(t *testing.T) {
	base := config.Config{
		AppEnv:        "prod",
		AuthSecret:    "0123456789abcdef0123456789abcdef",
		AllowedOrigin: "*",
		PersistDriver: config.PersistDriverFile,
	}
	if err := validateSecurityConfig(base); err == nil {
		t.Fatalf("expected wildcard origin to be rejected in prod")
	}

	base.AllowedOrigin = "http://127.0.0.1:3000"
	base.PersistDriver = config.PersistDriverMemory
	if err := validateSecurityConfig(base); err == nil {
		t.Fatalf("expected memory persistence to be rejected in prod")
	}

	base.PersistDriver = config.PersistDriverFile
	if err := validateSecurityConfig(base); err != nil {
		t.Fatalf("expected prod config to pass, got %v", err)
	}

	base.AppEnv = "dev"
	base.AllowedOrigin = "*"
	base.PersistDriver = config.PersistDriverMemory
	if err := validateSecurityConfig(base); err != nil {
		t.Fatalf("expected dev to allow wildcard origin and memory persistence, got %v", err)
	}
}

func TestNewAppServesSeededLogin(t *testing.T) {
	cfg := config.Config{
		ShopID:              "shop123",
		ShopName:            "Test Shop",
		TaxRateValue:        "0.07",
		TZOffset:            7 * time.Hour,
		StoreDriver:         config.StoreDriverMemory,
		PersistDriver:       config.PersistDriverFile,
		DataDir:             t.TempDir(),
		RemoteTimeout:       time.Second,
		ReachabilityTimeout: time.Second,
		ReconcileInterval:   time.Minute,
		AuthSecret:          "0123456789abcdef0123456789abcdef",
		AccessTokenTTL:      time.Hour,
		AllowedOrigin:       "*",
		SeedUserEmail:       "cashier@example.com",
		SeedUserPassword:    "t1ll-drawer-42",
	}

	a, err := newApp(context.Background(), cfg, logger.Nop())
	if err != nil {
		t.Fatalf("newApp failed: %v", err)
	}
	t.Cleanup(func() {
		if err := a.close(); err != nil {
			t.Errorf("close: %v", err)
		}
	})

	body := `{"email":"cashier@example.com","password":"t1ll-drawer-42"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected seeded login to succeed, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	a.server.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatalf("expected runtime metrics to be exposed, got %d", rec.Code)
	}
}
