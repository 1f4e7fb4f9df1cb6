package server

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/NicolasHaas/screenshare/pkg/model"
	"github.com/NicolasHaas/screenshare/pkg/protocol"
	pb "github.com/NicolasHaas/screenshare/pkg/protocol/pb"
	"github.com/NicolasHaas/screenshare/pkg/version"
)

// StartControl starts the TLS control listener the routing layer connects to.
func (s *Server) StartControl() error {
	cert, err := loadOrGenerateTLS(s.cfg)
	if err != nil {
		return fmt.Errorf("server: tls: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	ln, err := tls.Listen("tcp", s.cfg.ControlAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.controlLn = ln
	slog.Info("control plane listening", "addr", ln.Addr().String())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if isClosedErr(err) {
					return
				}
				slog.Error("accept error", "err", err)
				continue
			}
			s.serveConn(conn)
		}
	}()

	return nil
}

// serveConn handles conn on its own goroutine, tracked for Shutdown.
func (s *Server) serveConn(conn net.Conn) {
	if !s.track(func() { s.handleControlConn(conn) }) {
		_ = conn.Close()
	}
}

// track runs fn on a goroutine that Shutdown waits for. It reports false,
// without running fn, once Shutdown has started waiting.
func (s *Server) track(fn func()) bool {
	s.trackMu.Lock()
	defer s.trackMu.Unlock()
	if s.closing {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

// handleControlConn handles a single control connection lifecycle.
func (s *Server) handleControlConn(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()
	s.metrics.TotalConnections.Add(1)
	slog.Debug("new control connection", "remote", remoteAddr)

	// First message must be Hello
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.HelloTimeout))
	msg, err := protocol.ReadControlMessageMax(conn, s.cfg.MaxFrame)
	if err != nil {
		s.metrics.RejectedHellos.Add(1)
		slog.Warn("hello read failed", "remote", remoteAddr, "err", err)
		_ = conn.Close()
		return
	}
	_ = conn.SetReadDeadline(time.Time{}) // clear deadline

	user, err := parseHello(msg)
	if err != nil {
		s.metrics.RejectedHellos.Add(1)
		sendError(conn, pb.CodeBadHello, err.Error())
		_ = conn.Close()
		return
	}

	c := &userConn{user: user, conn: conn, remote: remoteAddr, maxFrame: s.conns.maxFrame}
	prev := s.conns.add(c)
	if s.ctx.Err() != nil {
		// Lost the race with Shutdown's closeAll.
		s.conns.remove(c)
		sendError(conn, pb.CodeShuttingDown, errShuttingDown.Error())
		c.close()
		return
	}
	if prev != nil {
		s.metrics.ReplacedConns.Add(1)
		_ = prev.write(&pb.ControlMessage{
			ErrorResponse: &pb.ErrorResponse{Code: pb.CodeReplaced, Message: "replaced by a newer connection from " + remoteAddr},
		})
		prev.close()
		slog.Info("connection replaced", "user", user.ID, "name", user.Username, "old", prev.remote, "new", remoteAddr)
	}
	s.metrics.ActiveConnections.Add(1)

	defer func() {
		c.close()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		if s.conns.remove(c) {
			s.coord.OnDisconnect(user.ID)
			slog.Info("user disconnected", "user", user.ID, "name", user.Username)
		}
	}()

	ack := &pb.ControlMessage{HelloAck: &pb.HelloAck{
		Server:   version.UserAgent(),
		Channels: []string{s.messages.Channel()},
	}}
	if err := c.write(ack); err != nil {
		slog.Error("hello ack write failed", "user", user.ID, "err", err)
		return
	}
	slog.Info("user connected", "user", user.ID, "name", user.Username, "remote", remoteAddr)

	// Message loop
	for {
		msg, err := protocol.ReadControlMessageMax(conn, s.cfg.MaxFrame)
		if err != nil {
			if errors.Is(err, io.EOF) || isClosedErr(err) {
				return
			}
			slog.Warn("control read error", "user", user.ID, "name", user.Username, "err", err)
			return
		}
		s.handleMessage(c, msg)
	}
}

// handleMessage dispatches a control message from an established connection.
func (s *Server) handleMessage(c *userConn, msg *pb.ControlMessage) {
	switch {
	case msg.PluginMessage != nil:
		s.messages.Deliver(c.remote, c.user.ID, true, msg.PluginMessage.Channel, msg.PluginMessage.Data)

	case msg.Ping != nil:
		_ = c.write(&pb.ControlMessage{
			Pong: &pb.Pong{Timestamp: msg.Ping.Timestamp},
		})

	case msg.Hello != nil:
		slog.Debug("ignoring repeated hello", "user", c.user.ID)
	}
}

func parseHello(msg *pb.ControlMessage) (model.User, error) {
	if msg.Hello == nil {
		return model.User{}, errors.New("first message must be hello")
	}
	id, err := model.ParseUserID(msg.Hello.UserID)
	if err != nil || id == model.NilUser {
		return model.User{}, fmt.Errorf("invalid user id %q", msg.Hello.UserID)
	}
	if err := model.ValidateUsername(msg.Hello.Username); err != nil {
		return model.User{}, fmt.Errorf("invalid username %q: %w", msg.Hello.Username, err)
	}
	return model.User{ID: id, Username: msg.Hello.Username}, nil
}

func sendError(conn net.Conn, code int32, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = protocol.WriteControlMessage(conn, &pb.ControlMessage{
		ErrorResponse: &pb.ErrorResponse{Code: code, Message: message},
	})
}

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
