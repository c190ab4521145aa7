// Package harness provides a fully wired roadwatch server for end-to-end
// tests: store, telemetry hub, ingest service, audit log and HTTP API.
package harness

import (
	"bufio"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/road-telemetry/roadwatch/internal/agent"
	"github.com/road-telemetry/roadwatch/internal/api"
	"github.com/road-telemetry/roadwatch/internal/audit"
	"github.com/road-telemetry/roadwatch/internal/auth"
	"github.com/road-telemetry/roadwatch/internal/config"
	"github.com/road-telemetry/roadwatch/internal/ingest"
	"github.com/road-telemetry/roadwatch/internal/metrics"
	"github.com/road-telemetry/roadwatch/internal/store"
	"github.com/road-telemetry/roadwatch/internal/store/memory"
	"github.com/road-telemetry/roadwatch/internal/telemetry"
)

// Secret signs harness tokens when auth is on.
const Secret = "harness-secret"

// Options configures the test harness
type Options struct {
	// Store defaults to a fresh memory store.
	Store store.Store

	// Stream overrides the stream section; zero fields keep the defaults.
	Stream config.StreamConfig

	WithAuth bool
	TempDir  string
}

// Server represents a test server with all components wired
type Server struct {
	URL       string
	Hub       *telemetry.Hub
	Store     store.Store
	Directory *agent.Directory
	Metrics   *metrics.Metrics
	AuditPath string

	httpServer *httptest.Server
}

// NewServer creates a fully-wired test server. Everything is torn down by
// t.Cleanup.
func NewServer(t *testing.T, opts Options) *Server {
	t.Helper()

	tempDir := opts.TempDir
	if tempDir == "" {
		tempDir = t.TempDir()
	}

	cfg := config.Baseline()
	cfg.Stream.HeartbeatInterval = time.Hour
	cfg.Stream.HeartbeatJitter = 0
	mergeStream(&cfg.Stream, opts.Stream)

	st := opts.Store
	if st == nil {
		st = memory.New()
	}

	m := metrics.New()
	hub := telemetry.NewHub(cfg.Stream, telemetry.WithMetrics(m))

	auditLogger, err := audit.NewLogger(filepath.Join(tempDir, "audit"), audit.Options{MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}

	directory := agent.NewDirectory()
	if err := directory.Load(t.Context(), st); err != nil {
		t.Fatalf("Failed to load agent directory: %v", err)
	}

	svc := ingest.NewService(st, hub, cfg.Ingest,
		ingest.WithAudit(auditLogger),
		ingest.WithObserver(directory),
		ingest.WithMetrics(m),
	)

	apiOpts := []api.Option{api.WithMetrics("/metrics", m.Handler())}
	if opts.WithAuth {
		v, err := auth.NewVerifier(auth.VerifierConfig{Algorithm: "HS256", SecretKey: Secret})
		if err != nil {
			t.Fatalf("Failed to create verifier: %v", err)
		}
		apiOpts = append(apiOpts, api.WithAuth(auth.NewMiddleware(v)))
	}
	apiServer := api.NewServer(svc, hub, directory, cfg.Server, apiOpts...)

	httpServer := httptest.NewServer(apiServer.Handler())
	t.Cleanup(func() {
		hub.Stop()
		httpServer.Close()
		_ = auditLogger.Close()
	})

	return &Server{
		URL:        httpServer.URL,
		Hub:        hub,
		Store:      st,
		Directory:  directory,
		Metrics:    m,
		AuditPath:  auditLogger.Path(),
		httpServer: httpServer,
	}
}

// WebSocketURL turns an HTTP path on the server into a ws:// URL.
func (s *Server) WebSocketURL(path string) string {
	return "ws" + s.URL[len("http"):] + path
}

// Token signs an HS256 bearer token with the given scopes.
func Token(t *testing.T, subject string, scopes ...string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":    subject,
		"scopes": scopes,
		"exp":    time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(Secret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return token
}

// AuditEntries reads every entry written so far.
func (s *Server) AuditEntries(t *testing.T) []audit.Entry {
	t.Helper()
	f, err := os.Open(s.AuditPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		t.Fatalf("Failed to open audit log: %v", err)
	}
	defer f.Close()

	var entries []audit.Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var e audit.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			t.Fatalf("Bad audit line %q: %v", sc.Text(), err)
		}
		entries = append(entries, e)
	}
	return entries
}

func mergeStream(dst *config.StreamConfig, src config.StreamConfig) {
	if src.QueueSize > 0 {
		dst.QueueSize = src.QueueSize
	}
	if src.WriteTimeout > 0 {
		dst.WriteTimeout = src.WriteTimeout
	}
	if src.HeartbeatInterval > 0 {
		dst.HeartbeatInterval = src.HeartbeatInterval
	}
	if src.HeartbeatJitter > 0 {
		dst.HeartbeatJitter = src.HeartbeatJitter
	}
	if src.BufferSize > 0 {
		dst.BufferSize = src.BufferSize
	}
	if src.MaxMessageBytes > 0 {
		dst.MaxMessageBytes = src.MaxMessageBytes
	}
}
