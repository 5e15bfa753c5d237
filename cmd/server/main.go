package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/exampleorg/docrepo/internal/platform/compliance"
	"github.com/exampleorg/docrepo/internal/platform/logging"
	"github.com/exampleorg/docrepo/internal/platform/metrics"
	"github.com/exampleorg/docrepo/internal/platform/policy"
	"github.com/exampleorg/docrepo/internal/platform/secrets"
	"github.com/exampleorg/docrepo/internal/platform/tracing"
	"github.com/exampleorg/docrepo/pkg/blobstore"
	"github.com/exampleorg/docrepo/pkg/crypto/ecdh"
	"github.com/exampleorg/docrepo/pkg/crypto/sign"
	"github.com/exampleorg/docrepo/pkg/org"
	"github.com/exampleorg/docrepo/pkg/session/handshake"
	"github.com/exampleorg/docrepo/pkg/session/registry"
)

func main() {
	var (
		addr          = flag.String("addr", ":8443", "HTTP listen address")
		deltaSec      = flag.Uint("delta", 3600, "session expiration window, in seconds")
		vaultAddr     = flag.String("vault-addr", "", "Vault address for the server's long-term identity key (empty: generate an ephemeral key)")
		vaultToken    = flag.String("vault-token", "", "Vault token (falls back to VAULT_TOKEN)")
		otlpEndpoint  = flag.String("otlp-endpoint", "", "OTLP gRPC endpoint for traces and metrics (empty: disabled)")
		otlpInsecure  = flag.Bool("otlp-insecure", true, "dial the OTLP endpoint without TLS")
		complianceSec = flag.Uint("compliance-interval", 300, "seconds between managers-invariant sweeps (0: disabled)")
	)
	flag.Parse()

	logger, cleanup, err := logging.Global(logging.Config{
		ServiceName: "docrepo-server",
		Environment: "dev",
		Level:       "info",
		RedactionRules: []logging.RedactionRule{
			{Key: "password"},
			{Key: "derived_key"},
			{Key: "private_key"},
			{Key: "key"},
		},
	})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = cleanup(ctx)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *otlpEndpoint != "" {
		tp, err := tracing.New(ctx, tracing.Config{
			Endpoint:    *otlpEndpoint,
			Insecure:    *otlpInsecure,
			ServiceName: "docrepo-server",
			Environment: "dev",
		})
		if err != nil {
			logger.Fatal("tracing init", zap.Error(err))
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()

		mp, err := metrics.New(ctx, metrics.Config{
			Endpoint:    *otlpEndpoint,
			Insecure:    *otlpInsecure,
			ServiceName: "docrepo-server",
			Environment: "dev",
		})
		if err != nil {
			logger.Fatal("metrics init", zap.Error(err))
		}
		defer func() { _ = mp.Shutdown(context.Background()) }()
	}

	scheme := sign.New()
	serverKeyPair, err := loadOrGenerateServerKey(ctx, *vaultAddr, *vaultToken, scheme, logger)
	if err != nil {
		logger.Fatal("server identity key", zap.Error(err))
	}

	orgs := org.NewStore()
	sessions := registry.New()
	blobs := blobstore.NewMemory()

	policyEngine, err := policy.NewDocumentAccessEngine(ctx)
	if err != nil {
		logger.Fatal("policy engine init", zap.Error(err))
	}

	handshakes, err := handshake.New(handshake.Config{
		Scheme:        scheme,
		ECDHSuite:     ecdh.New(),
		ServerKeyPair: serverKeyPair,
		Orgs:          orgs,
		Sessions:      sessions,
		Delta:         time.Duration(*deltaSec) * time.Second,
	})
	if err != nil {
		logger.Fatal("handshake engine init", zap.Error(err))
	}

	if *complianceSec > 0 {
		checker := compliance.NewChecker(compliance.NewManagersInvariantCheck(orgs))
		go runComplianceSweep(ctx, checker, time.Duration(*complianceSec)*time.Second, logger)
	}

	srv := New(Config{
		Address: *addr,
		Delta:   time.Duration(*deltaSec) * time.Second,
		Logger:  logger,
	}, orgs, sessions, blobs, scheme, serverKeyPair, handshakes, policyEngine)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	logger.Info("server listening", zap.String("addr", *addr))

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

// loadOrGenerateServerKey fetches the server's long-term ECDSA identity
// keypair from Vault when configured, otherwise generates an ephemeral one
// for local development (spec section 1: "server public key is
// distributed out-of-band" assumes a real deployment supplies a Vault
// address).
func loadOrGenerateServerKey(ctx context.Context, vaultAddr, vaultToken string, scheme sign.Scheme, logger *zap.Logger) (sign.KeyPair, error) {
	if vaultAddr == "" {
		logger.Warn("no vault address configured, generating an ephemeral server identity key")
		return scheme.GenerateKeyPair()
	}

	mgr, err := secrets.New(secrets.Config{
		Address: vaultAddr,
		Token:   vaultToken,
	})
	if err != nil {
		return sign.KeyPair{}, err
	}
	return mgr.GetSigningKey(ctx, "server")
}

func runComplianceSweep(ctx context.Context, checker *compliance.Checker, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := checker.Evaluate(ctx)
			if !summary.Healthy() {
				logger.Warn("managers invariant sweep found violations",
					zap.Int("failed", len(summary.Failed)),
					zap.Int("warnings", len(summary.Warnings)))
			}
		}
	}
}
