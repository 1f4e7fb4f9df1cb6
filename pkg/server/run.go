package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/crypto"
	"github.com/NicolasHaas/screenshare/pkg/model"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 5 * time.Second
)

// Start brings up the listeners and background loops without blocking.
func (s *Server) Start() error {
	if err := s.ensureAdminToken(); err != nil {
		return err
	}
	if err := s.StartControl(); err != nil {
		return err
	}
	if err := s.StartAdminHTTP(); err != nil {
		_ = s.controlLn.Close()
		return err
	}

	cfg := s.coord.Config()
	slog.Info("screenshare coordinator running",
		"control", s.ControlAddr().String(),
		"admin", s.cfg.AdminAddr,
		"target", cfg.TargetEndpoint,
		"join_delay", cfg.JoinDelay,
		"lookup_timeout", s.lookups.Timeout(),
	)

	s.metrics.StartPeriodicLog(s.cfg.MetricsInterval, s.ctx.Done())
	if s.cfg.JournalRetention > 0 {
		s.track(func() { s.pruneLoop(s.cfg.JournalRetention) })
	}
	return nil
}

// Run starts the server and blocks until a shutdown signal.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		s.Shutdown()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	select {
	case <-sigCh:
	case <-s.ctx.Done():
	}

	slog.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown gracefully stops the server: sessions and lookups are dropped,
// listeners and connections closed, and the journal closed last.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		s.cancel()
		if s.controlLn != nil {
			_ = s.controlLn.Close()
		}
		s.coord.Shutdown()

		if s.adminSrv != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.adminSrv.Shutdown(ctx); err != nil {
				slog.Warn("admin HTTP shutdown", "err", err)
			}
			cancel()
		}

		s.conns.closeAll(&pb.ControlMessage{
			ErrorResponse: &pb.ErrorResponse{Code: pb.CodeShuttingDown, Message: errShuttingDown.Error()},
		})
		s.trackMu.Lock()
		s.closing = true
		s.trackMu.Unlock()
		s.wg.Wait()
		s.events.close()
		if err := s.journal.Close(); err != nil {
			slog.Error("journal close failed", "err", err)
		}
	})
}

// ApplyConfig swaps in the parts of cfg that can change at runtime: the
// coordinator settings and the admin tokens.
func (s *Server) ApplyConfig(cfg Config) error {
	if err := s.coord.Reconfigure(cfg.Coordinator); err != nil {
		return fmt.Errorf("server: reconfigure: %w", err)
	}
	s.tokens.set(cfg.Tokens)
	if cfg.ControlAddr != s.cfg.ControlAddr || cfg.AdminAddr != s.cfg.AdminAddr ||
		cfg.PluginChannel != s.cfg.PluginChannel || cfg.LookupTimeout != s.cfg.LookupTimeout {
		slog.Warn("listener, channel and lookup settings change only on restart")
	}
	slog.Info("configuration applied",
		"target", cfg.Coordinator.TargetEndpoint,
		"on_join", cfg.Coordinator.OnJoinTemplate,
		"on_return", cfg.Coordinator.OnReturnTemplate,
		"tokens", len(cfg.Tokens),
	)
	return nil
}

// ensureAdminToken creates an ephemeral admin token when the admin API is
// enabled but no tokens are configured.
func (s *Server) ensureAdminToken() error {
	if s.cfg.AdminAddr == "" || s.tokens.len() > 0 {
		return nil
	}

	rawToken, err := crypto.GenerateToken()
	if err != nil {
		return fmt.Errorf("server: generate admin token: %w", err)
	}
	hash, err := crypto.HashAPIToken(rawToken)
	if err != nil {
		return fmt.Errorf("server: hash admin token: %w", err)
	}
	s.tokens.add(model.APIToken{Name: "bootstrap", Hash: hash, Role: model.RoleAdmin})

	slog.Info("========================================")
	slog.Info("ADMIN TOKEN (valid until restart, save this!):", "token", rawToken)
	slog.Info("========================================")
	return nil
}

func (s *Server) pruneLoop(retention time.Duration) {
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		cutoff := s.clock.Now().Add(-retention)
		n, err := s.journal.Prune(s.ctx, cutoff)
		switch {
		case err != nil && s.ctx.Err() == nil:
			slog.Error("journal prune failed", "err", err)
		case n > 0:
			slog.Info("pruned journal", "events", n, "before", cutoff.Format(time.RFC3339))
		}
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
