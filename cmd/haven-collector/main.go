// Command haven-collector runs the Collector Execution Engine's HTTP
// surface: POST /v1/collectors/{collector}:run and
// GET /v1/collectors/{collector}/state, per §6.
//
// Usage:
//
//	haven-collector -collector acme -imap-host imap.example.com -imap-user alice@example.com \
//	    -imap-secret "keychain://haven/acme-imap" -folders INBOX -state-dir /var/lib/haven-collector
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/emersion/go-imap/v2"

	"github.com/chrispatten/haven-collector/internal/collectorsvc"
	"github.com/chrispatten/haven-collector/internal/config"
	"github.com/chrispatten/haven-collector/internal/cursorstore"
	"github.com/chrispatten/haven-collector/internal/fence"
	"github.com/chrispatten/haven-collector/internal/gateway"
	"github.com/chrispatten/haven-collector/internal/httpapi"
	"github.com/chrispatten/haven-collector/internal/imapsession"
	"github.com/chrispatten/haven-collector/internal/logging"
	"github.com/chrispatten/haven-collector/internal/orchestrator"
	"github.com/chrispatten/haven-collector/internal/pipeline"
	"github.com/chrispatten/haven-collector/internal/secret"
	"github.com/chrispatten/haven-collector/internal/source"
)

func main() {
	port := flag.Int("port", config.EnvInt("HAVEN_PORT", 8088), "HTTP listen port")
	stateDir := flag.String("state-dir", "./var/haven-collector", "directory for fence/cursor state")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "json", "log format: json, text, or logfmt")

	authHeader := flag.String("auth-header", "X-Haven-Auth", "inbound request auth header name")
	authSecret := flag.String("auth-secret", os.Getenv("HAVEN_AUTH_SECRET"), "inbound request auth secret; empty disables auth")

	gatewayBaseURL := flag.String("gateway-url", os.Getenv("HAVEN_GATEWAY_BASE_URL"), "Gateway base URL")
	gatewayIngestPath := flag.String("gateway-ingest-path", "/v1/ingest", "Gateway batch ingest path")
	gatewayIngestFilePath := flag.String("gateway-ingest-file-path", "/v1/ingest/file", "Gateway file ingest path")
	gatewayAuthHeader := flag.String("gateway-auth-header", "Authorization", "Gateway outbound auth header name")
	gatewayAuthSecret := flag.String("gateway-auth-secret", "", "Gateway outbound auth secret (scheme:// URI resolved via the Secret Resolver)")

	collector := flag.String("collector", "", "collector name to register at startup")
	imapHost := flag.String("imap-host", "", "IMAP host for the registered collector")
	imapPort := flag.Int("imap-port", 993, "IMAP port")
	imapUser := flag.String("imap-user", "", "IMAP username")
	imapSecretURI := flag.String("imap-secret", "", "scheme:// URI resolved via the Secret Resolver for the IMAP password/token")
	folders := flag.String("folders", "INBOX", "comma-separated IMAP folders to enumerate")

	flag.Parse()

	logging.Configure(*logLevel, logging.Format(*logFormat))
	log := logging.WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runArgs{
		port:                  *port,
		stateDir:              *stateDir,
		authHeader:            *authHeader,
		authSecret:            *authSecret,
		gatewayBaseURL:        *gatewayBaseURL,
		gatewayIngestPath:     *gatewayIngestPath,
		gatewayIngestFilePath: *gatewayIngestFilePath,
		gatewayAuthHeader:     *gatewayAuthHeader,
		gatewayAuthSecret:     *gatewayAuthSecret,
		collector:             *collector,
		imapHost:              *imapHost,
		imapPort:              *imapPort,
		imapUser:              *imapUser,
		imapSecretURI:         *imapSecretURI,
		folders:               strings.Split(*folders, ","),
	}); err != nil {
		log.Error().Err(err).Msg("fatal")
		os.Exit(1)
	}
}

type runArgs struct {
	port                   int
	stateDir               string
	authHeader, authSecret string

	gatewayBaseURL, gatewayIngestPath, gatewayIngestFilePath string
	gatewayAuthHeader, gatewayAuthSecret                     string

	collector     string
	imapHost      string
	imapPort      int
	imapUser      string
	imapSecretURI string
	folders       []string
}

func run(ctx context.Context, args runArgs) error {
	log := logging.WithComponent("main")

	if err := os.MkdirAll(args.stateDir, 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	resolver := secret.NewChain(secret.NewKeychainResolver())

	cursors, err := cursorstore.Open(filepath.Join(args.stateDir, "cursors.db"))
	if err != nil {
		return fmt.Errorf("open cursor store: %w", err)
	}
	defer cursors.Close()
	go cursors.StartCheckpointRoutine(ctx)

	gatewaySecret := ""
	if args.gatewayAuthSecret != "" {
		resolved, err := resolver.Resolve(args.gatewayAuthSecret)
		if err != nil {
			return fmt.Errorf("resolve gateway auth secret: %w", err)
		}
		gatewaySecret = string(resolved)
	}

	gw := gateway.NewClient(
		args.gatewayBaseURL, args.gatewayIngestPath, args.gatewayIngestFilePath,
		args.gatewayAuthHeader, gatewaySecret, 30*time.Second,
	)

	fenceStoreFor := func(collector string) *fence.Store {
		return fence.NewStore(filepath.Join(args.stateDir, fmt.Sprintf("%s.fence.json", collector)))
	}

	orch := orchestrator.New(fenceStoreFor)
	svc := collectorsvc.New(orch)

	if args.collector != "" {
		if err := registerIMAPCollector(svc, resolver, cursors, gw, args); err != nil {
			return fmt.Errorf("register collector %s: %w", args.collector, err)
		}
		log.Info().Str("collector", args.collector).Msg("registered IMAP collector")
	}

	server := httpapi.NewServer(svc, args.authHeader, args.authSecret)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", args.port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", args.port).Msg("listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// registerIMAPCollector wires a single IMAP-backed collector: pool, source,
// and processing pipeline, bound to the shared cursor store for UID
// high-water-mark persistence.
func registerIMAPCollector(svc *collectorsvc.Service, resolver secret.Resolver, cursors *cursorstore.DB, gw *gateway.Client, args runArgs) error {
	password := ""
	if args.imapSecretURI != "" {
		resolved, err := resolver.Resolve(args.imapSecretURI)
		if err != nil {
			return fmt.Errorf("resolve imap secret: %w", err)
		}
		password = string(resolved)
	}

	clientConfig := imapsession.DefaultConfig()
	clientConfig.Host = args.imapHost
	clientConfig.Port = args.imapPort
	clientConfig.Username = args.imapUser
	clientConfig.Password = password
	clientConfig.AuthType = imapsession.AuthTypePassword

	pool := imapsession.NewPool(imapsession.DefaultPoolConfig(), func(collector string) (*imapsession.ClientConfig, error) {
		cfg := clientConfig
		return &cfg, nil
	})

	imapSource := source.NewIMAPSource(pool, args.collector, args.folders, func(folder string) source.IMAPCursor {
		cur, err := cursors.Get(context.Background(), args.collector, folder)
		if err != nil {
			return source.IMAPCursor{}
		}
		return source.IMAPCursor{LastProcessedUID: cur.LastProcessedUID, OldestCachedUID: cur.OldestCachedUID}
	})
	imapSource.OnFolderMerged = func(folder string, merged []imap.UID) {
		if err := cursors.Advance(context.Background(), args.collector, folder, merged); err != nil {
			logging.WithComponent("main").Warn().Err(err).Str("folder", folder).Msg("failed to advance imap cursor")
		}
	}

	proc := pipeline.New(nil, nil, nil, gw, pipeline.RFC822Parser)

	svc.Register(args.collector, collectorsvc.Registration{
		Source:  imapSource,
		Process: proc.ProcessItem,
		Batches: proc,
	})
	return nil
}
