// Command coordinatord runs the session coordinator HTTP/WebSocket server:
// one process routing requests to a per-session Coordinator actor, each
// backed by its own SQLite file under the configured data directory.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sessioncoordinator/coordinator/internal/config"
	"github.com/sessioncoordinator/coordinator/internal/cryptoutil"
	"github.com/sessioncoordinator/coordinator/internal/hub"
	"github.com/sessioncoordinator/coordinator/internal/httpapi"
	"github.com/sessioncoordinator/coordinator/internal/lifecycle"
	"github.com/sessioncoordinator/coordinator/internal/policy"
	"github.com/sessioncoordinator/coordinator/internal/registry"
	"github.com/sessioncoordinator/coordinator/internal/sandboxclient"
	"github.com/sessioncoordinator/coordinator/internal/vcshost"
)

func main() {
	cfg := config.Load()

	log.Printf("Starting session coordinator...")
	log.Printf("HTTP port: %d", cfg.HTTPPort)
	log.Printf("Data directory: %s", cfg.DataDir)
	log.Printf("Sandbox provider: %s", cfg.SandboxProviderURL)
	log.Printf("VCS host: %s", cfg.VCSHostURL)

	tokenCipher, err := cryptoutil.NewTokenCipher([]byte(cfg.TokenEncryptionKey))
	if err != nil {
		log.Fatalf("Failed to initialize token cipher: %v", err)
	}

	serviceSigner := cryptoutil.NewHMACSigner(cfg.ServiceHMACSecret)
	providerSigner := cryptoutil.NewHMACSigner(cfg.ProviderHMACSecret)

	var appSigner *cryptoutil.AppJWTSigner
	if cfg.AppPrivateKeyPEM != "" {
		appSigner, err = cryptoutil.NewAppJWTSigner(cfg.AppID, []byte(cfg.AppPrivateKeyPEM))
		if err != nil {
			log.Fatalf("Failed to initialize app JWT signer: %v", err)
		}
	}

	sandboxProvider := sandboxclient.NewClient(cfg.SandboxProviderURL, providerSigner)
	vcs := vcshost.NewClient(cfg.VCSHostURL, appSigner, cfg.AppInstallationID)

	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		log.Fatalf("Failed to initialize policy engine: %v", err)
	}

	reg, err := registry.New(cfg.DataDir, registry.CommonDeps{
		Provider: sandboxProvider,
		VCS:      vcs,
		Cipher:   tokenCipher,
		Gate:     policyEngine,
		Lifecycle: lifecycle.Config{
			InactivityTimeout:      cfg.InactivityTimeout,
			HeartbeatThreshold:     cfg.HeartbeatThreshold,
			SpawnCooldown:          cfg.SpawnCooldown,
			CircuitBreakerWindow:   cfg.CircuitBreakerWindow,
			CircuitBreakerCooldown: cfg.CircuitBreakerCooldown,
			CircuitBreakerLimit:    cfg.CircuitBreakerLimit,
		},
		WS: hub.Config{
			AuthTimeout:    cfg.AuthTimeout,
			PingInterval:   cfg.PingInterval,
			WriteTimeout:   cfg.WriteTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			MaxMessageSize: cfg.MaxMessageSize,
		},
		PushTimeout: cfg.PushTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to initialize session registry: %v", err)
	}

	h := httpapi.NewHandler(reg, serviceSigner)
	server := httpapi.NewServer(h)

	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	log.Printf("Session coordinator listening on port %d", cfg.HTTPPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down session coordinator...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Failed to shutdown HTTP server gracefully: %v", err)
	}

	log.Println("Session coordinator stopped")
}
