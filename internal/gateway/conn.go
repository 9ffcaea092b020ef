// ABOUTME: Chat listener accept loop and per-connection handler
// ABOUTME: Enforces the join handshake, reports client errors as SYSTEM notices and tears sessions down

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/2389/petchat-gateway/internal/protocol"
	"github.com/2389/petchat-gateway/internal/router"
	"github.com/2389/petchat-gateway/internal/session"
)

// serveChat accepts chat connections until ln is closed.
func (g *Gateway) serveChat(ctx context.Context, ln net.Listener) error {
	g.logger.Info("chat server listening", "addr", ln.Addr().String())
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}

		conn := session.NewConnection(session.ConnectionParams{
			Conn:         nc,
			MaxFrameSize: g.config.Server.MaxFrameSize,
			QueueSize:    g.config.Server.OutboundQueue,
			WriteTimeout: g.config.Server.WriteTimeout,
			Logger:       g.logger,
		})
		if !g.track(conn) {
			_ = conn.Close()
			conn.Wait()
			continue
		}

		go func() {
			defer g.untrack(conn)
			g.handleConnection(ctx, conn)
		}()
	}
}

// track registers a live connection. It refuses once shutdown has begun.
func (g *Gateway) track(conn *session.Connection) bool {
	g.connMu.Lock()
	defer g.connMu.Unlock()
	if g.closing {
		return false
	}
	g.conns[conn] = struct{}{}
	g.handlers.Add(1)
	return true
}

func (g *Gateway) untrack(conn *session.Connection) {
	g.connMu.Lock()
	delete(g.conns, conn)
	g.connMu.Unlock()
	g.handlers.Done()
}

// disconnectAll closes every live connection and waits for the handlers to
// finish their teardown, or for ctx to expire.
func (g *Gateway) disconnectAll(ctx context.Context) {
	g.connMu.Lock()
	g.closing = true
	for conn := range g.conns {
		_ = conn.Close()
	}
	g.connMu.Unlock()

	done := make(chan struct{})
	go func() {
		g.handlers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("timed out waiting for connections to close")
	}
}

// handleConnection runs the read side of one client connection: the join
// handshake, then dispatch until the client leaves or the socket fails.
func (g *Gateway) handleConnection(ctx context.Context, conn *session.Connection) {
	logger := g.logger.With("remote_addr", conn.RemoteAddr())
	defer func() {
		conn.CloseAfterFlush()
		conn.Wait()
	}()

	sess, err := g.handshake(ctx, conn, logger)
	if err != nil {
		return
	}
	logger = logger.With("session", sess.Identity)

	// Session teardown must outlive shutdown so counters are saved.
	defer g.router.Leave(context.WithoutCancel(ctx), sess)

	for {
		env, err := conn.ReadEnvelope()
		if err != nil {
			g.readFailed(conn, logger, err)
			return
		}

		err = g.router.Dispatch(ctx, sess, env)
		switch {
		case err == nil:
		case errors.Is(err, router.ErrLeave):
			logger.Debug("client requested leave")
			return
		case protocol.IsClientError(err):
			logger.Debug("rejected envelope", "kind", env.Kind, "error", err)
			g.notify(conn, logger, err)
		default:
			logger.Error("dispatch failed", "kind", env.Kind, "error", err)
		}
	}
}

// handshake reads the first envelope, which must be a JOIN, within the
// handshake timeout.
func (g *Gateway) handshake(ctx context.Context, conn *session.Connection, logger *slog.Logger) (*session.Session, error) {
	if timeout := g.config.Server.HandshakeTimeout; timeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(timeout))
	}

	env, err := conn.ReadEnvelope()
	if err != nil {
		g.readFailed(conn, logger, err)
		return nil, err
	}

	if err := env.Validate(); err != nil {
		g.notify(conn, logger, err)
		return nil, err
	}

	sess, err := g.router.Join(ctx, conn, env)
	if err != nil {
		logger.Info("join rejected", "sender", env.Sender, "error", err)
		g.notify(conn, logger, err)
		return nil, err
	}

	_ = conn.SetReadDeadline(time.Time{})
	return sess, nil
}

// readFailed logs a read error. Protocol violations are reported to the
// peer before the connection closes.
func (g *Gateway) readFailed(conn *session.Connection, logger *slog.Logger, err error) {
	if errors.Is(err, protocol.ErrProtocol) {
		logger.Warn("protocol error, closing connection", "error", err)
		g.notify(conn, logger, err)
		return
	}
	logger.Debug("connection closed", "error", err)
}

// notify sends a SYSTEM notice describing err.
func (g *Gateway) notify(conn *session.Connection, logger *slog.Logger, err error) {
	if sendErr := conn.Send(protocol.Notice(err)); sendErr != nil {
		logger.Debug("sending notice failed", "error", sendErr)
	}
}
