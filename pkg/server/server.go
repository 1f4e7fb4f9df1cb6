// Package server hosts the screenshare coordinator: the TLS control listener
// the routing layer connects to, and the HTTP admin API operators use.
package server

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/clock"
	"github.com/NicolasHaas/screenshare/pkg/config"
	"github.com/NicolasHaas/screenshare/pkg/console"
	"github.com/NicolasHaas/screenshare/pkg/coordinator"
	"github.com/NicolasHaas/screenshare/pkg/journal"
	"github.com/NicolasHaas/screenshare/pkg/lookup"
	"github.com/NicolasHaas/screenshare/pkg/messaging"
	"github.com/NicolasHaas/screenshare/pkg/metrics"
	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/protocol"
	"github.com/NicolasHaas/screenshare/pkg/session"
	"github.com/NicolasHaas/screenshare/pkg/wire"
)

// Config holds server configuration.
type Config struct {
	ControlAddr  string        // TCP/TLS bind address for the routing layer (e.g. ":25580")
	CertFile     string        // TLS certificate file path
	KeyFile      string        // TLS private key file path
	DataDir      string        // directory for generated certs
	MaxFrame     int           // largest control frame accepted or sent, in bytes
	HelloTimeout time.Duration // how long a new connection has to send its hello

	AdminAddr string           // HTTP bind address for the admin API (empty = disabled)
	Tokens    []model.APIToken // admin API tokens

	PluginChannel    string
	LookupTimeout    time.Duration
	MetricsInterval  time.Duration // periodic metrics log (<= 0 disables)
	JournalRetention time.Duration // prune journal entries older than this (0 keeps all)

	Coordinator coordinator.Config
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Journal and will Close() it on shutdown.
type Dependencies struct {
	Journal    journal.Journal
	Dispatcher console.Dispatcher
	Clock      clock.Clock
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() Config {
	cfg, _ := FromFile(config.Default())
	return cfg
}

// FromFile converts a loaded configuration file.
func FromFile(f config.File) (Config, error) {
	maxFrame, err := f.MaxFrameBytes()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ControlAddr:      f.Control.Addr,
		CertFile:         f.Control.CertFile,
		KeyFile:          f.Control.KeyFile,
		DataDir:          f.Control.DataDir,
		MaxFrame:         maxFrame,
		HelloTimeout:     time.Duration(f.Control.HelloTimeout),
		AdminAddr:        f.Admin.Addr,
		Tokens:           f.Admin.Tokens,
		PluginChannel:    f.PluginChannel,
		LookupTimeout:    time.Duration(f.LookupTimeout),
		MetricsInterval:  time.Duration(f.MetricsInterval),
		JournalRetention: time.Duration(f.Journal.Retention),
		Coordinator:      f.Coordinator(),
	}, nil
}

// loadOrGenerateTLS loads TLS cert/key from disk or generates a self-signed pair.
func loadOrGenerateTLS(cfg Config) (tls.Certificate, error) {
	certPath := cfg.CertFile
	keyPath := cfg.KeyFile

	if certPath == "" {
		certPath = filepath.Join(cfg.DataDir, "control.crt")
	}
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "control.key")
	}

	// Try loading existing cert
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		slog.Info("loaded TLS certificate", "cert", certPath)
		return cert, nil
	}
	if cfg.CertFile != "" {
		// A configured pair is never replaced by a generated one.
		return tls.Certificate{}, fmt.Errorf("load cert: %w", err)
	}

	slog.Info("generating self-signed TLS certificate")
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generate key: %w", err)
	}

	serialNumber, _ := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject:      pkix.Name{Organization: []string{"Screenshare Coordinator"}},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1"), net.ParseIP("::1")},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("create cert: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return tls.Certificate{}, fmt.Errorf("create data dir: %w", err)
	}
	certOut, err := os.Create(certPath) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write cert: %w", err)
	}
	if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: certDER}); err != nil {
		_ = certOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode cert: %w", err)
	}
	if err := certOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close cert file: %w", err)
	}

	privBytes, err := x509.MarshalECPrivateKey(priv)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("marshal key: %w", err)
	}
	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600) //nolint:gosec // path from server config
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("write key: %w", err)
	}
	if err := pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: privBytes}); err != nil {
		_ = keyOut.Close()
		return tls.Certificate{}, fmt.Errorf("encode key: %w", err)
	}
	if err := keyOut.Close(); err != nil {
		return tls.Certificate{}, fmt.Errorf("close key file: %w", err)
	}

	slog.Info("TLS certificate generated", "cert", certPath, "key", keyPath)

	return tls.LoadX509KeyPair(certPath, keyPath)
}

// Server is the screenshare coordinator host.
type Server struct {
	cfg      Config
	clock    clock.Clock
	metrics  *metrics.Metrics
	conns    *connTable
	messages *messaging.Client
	lookups  *lookup.Registry
	sessions *session.Registry
	coord    *coordinator.Coordinator
	journal  journal.Journal
	events   *notifier
	tokens   *tokenSet

	controlLn net.Listener
	adminLn   net.Listener
	adminSrv  *http.Server

	trackMu      sync.Mutex
	closing      bool
	wg           sync.WaitGroup // connection handlers and the prune loop
	shutdownOnce sync.Once
	ctx          context.Context
	cancel       context.CancelFunc
}

// New creates a new Server instance and wires the coordinator.
func New(cfg Config, deps Dependencies) (*Server, error) {
	if cfg.MaxFrame <= 0 {
		cfg.MaxFrame = protocol.MaxControlMessage
	}
	if cfg.HelloTimeout <= 0 {
		cfg.HelloTimeout = config.DefaultHelloTimeout
	}
	if cfg.PluginChannel == "" {
		cfg.PluginChannel = wire.Channel
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	jr := deps.Journal
	if jr == nil {
		jr = journal.NewMemory()
	}

	m := metrics.New()
	conns := newConnTable(cfg.MaxFrame)
	messages := messaging.New(conns,
		messaging.WithMetrics(m),
		messaging.WithChannel(cfg.PluginChannel),
	)
	lookups := lookup.New(messages,
		lookup.WithTimeout(cfg.LookupTimeout),
		lookup.WithClock(clk),
		lookup.WithMetrics(m),
	)
	messages.Subscribe(lookups.HandleInbound)
	sessions := session.NewRegistry()
	events := newNotifier(jr)

	coord, err := coordinator.New(cfg.Coordinator, coordinator.Dependencies{
		Sessions:   sessions,
		Lookups:    lookups,
		Sender:     messages,
		Presence:   conns,
		Dispatcher: deps.Dispatcher,
		Recorder:   events,
		Clock:      clk,
		Metrics:    m,
	})
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}
	m.Observe(sessions.Len, lookups.Len)

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:      cfg,
		clock:    clk,
		metrics:  m,
		conns:    conns,
		messages: messages,
		lookups:  lookups,
		sessions: sessions,
		coord:    coord,
		journal:  jr,
		events:   events,
		tokens:   newTokenSet(cfg.Tokens),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Coordinator returns the session coordinator.
func (s *Server) Coordinator() *coordinator.Coordinator {
	return s.coord
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Journal returns the relocation journal.
func (s *Server) Journal() journal.Journal {
	return s.journal
}

// ControlAddr returns the bound control listener address, or nil before Start.
func (s *Server) ControlAddr() net.Addr {
	if s.controlLn == nil {
		return nil
	}
	return s.controlLn.Addr()
}

// AdminAddr returns the bound admin listener address, or nil when disabled.
func (s *Server) AdminAddr() net.Addr {
	if s.adminLn == nil {
		return nil
	}
	return s.adminLn.Addr()
}

var errShuttingDown = errors.New("server: shutting down")
