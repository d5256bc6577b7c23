package proxy

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog"
)

// Server listens on a single TCP address, speaks the WebSocket opening
// handshake on every accepted connection, and splices each one to
// upstreamAddr — one Channel per connection.
type Server struct {
	BindAddr     string
	UpstreamAddr string
	Logger       zerolog.Logger
}

// ListenAndServe listens on s.BindAddr and serves connections until ctx
// is cancelled or the listener itself fails. A per-connection accept
// error is logged and does not stop the loop; a listener-level failure
// (e.g. the socket itself going away) does.
func (s *Server) ListenAndServe(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.BindAddr)
	if err != nil {
		return err
	}

	s.Logger.Info().Str("bind_addr", s.BindAddr).Str("upstream_addr", s.UpstreamAddr).Msg("listening")

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	var tempDelay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				tempDelay = backoff(tempDelay)
				s.Logger.Warn().Err(err).Dur("retry_in", tempDelay).Msg("accept error, retrying")
				time.Sleep(tempDelay)
				continue
			}
			return err
		}
		tempDelay = 0

		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, conn net.Conn) {
	ch := NewChannel(s.Logger, conn, s.UpstreamAddr)
	if err := ch.Run(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("channel exited with error")
	}
}

// backoff grows a retry delay from 5ms up to a 1s cap, matching the
// accept-retry idiom net/http's Server uses for the same class of
// transient accept errors.
func backoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	d *= 2
	if d > time.Second {
		d = time.Second
	}
	return d
}
