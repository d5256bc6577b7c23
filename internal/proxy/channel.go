package proxy

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Channel is the per-connection driver. It takes an accepted client
// socket through the handshake and then, on success, splices it with a
// freshly dialed upstream TCP connection until the WebSocket closing
// handshake completes or either side reaches EOS.
//
// One Channel serves exactly one connection and is never reused.
type Channel struct {
	id           string
	logger       zerolog.Logger
	wsConn       net.Conn
	upstreamAddr string
}

// NewChannel constructs a Channel for a freshly accepted client socket,
// setting TCP_NODELAY on it since every WebSocket frame is its own
// write and Nagle's algorithm would only add latency.
func NewChannel(logger zerolog.Logger, wsConn net.Conn, upstreamAddr string) *Channel {
	if tcp, ok := wsConn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	id := uuid.NewString()
	return &Channel{
		id:           id,
		logger:       logger.With().Str("conn_id", id).Str("remote_addr", wsConn.RemoteAddr().String()).Logger(),
		wsConn:       wsConn,
		upstreamAddr: upstreamAddr,
	}
}

// Run drives the connection to completion: HTTP Upgrade handshake,
// upstream connect, full-duplex relay, closing handshake. It returns
// nil on every normal termination (clean WebSocket close, WebSocket TCP
// EOS, handshake rejection already answered with an HTTP error response)
// and a non-nil error only for conditions the caller should log as
// unexpected.
func (ch *Channel) Run(ctx context.Context) error {
	defer func() { _ = ch.wsConn.Close() }()

	wsReader := bufio.NewReader(ch.wsConn)
	wsWriter := bufio.NewWriter(ch.wsConn)

	upstreamConn, err := performHandshake(ch.wsConn, wsWriter, wsReader, ch.upstreamAddr)
	if err != nil {
		var invalid *InvalidInputError
		if errors.As(err, &invalid) {
			ch.logger.Warn().Err(err).Msg("rejected invalid WebSocket handshake request")
			return nil
		}
		ch.logger.Warn().Err(err).Msg("WebSocket handshake failed")
		return nil
	}
	defer func() { _ = upstreamConn.Close() }()

	ch.logger.Info().Str("upstream_addr", ch.upstreamAddr).Msg("WebSocket handshake succeeded, relaying")

	cl := newCloser(ch.logger, ch.wsConn, upstreamConn)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error { return relayUpstreamToClient(upstreamConn, cl) })
	g.Go(func() error { return relayClientToUpstream(wsReader, upstreamConn, cl) })

	if err := g.Wait(); err != nil {
		ch.logger.Warn().Err(err).Msg("proxy channel aborted")
		return err
	}

	ch.logger.Info().Msg("proxy channel terminated normally")
	return nil
}

// relayUpstreamToClient reads up to dataChunkSize bytes at a time from
// upstream and forwards each chunk to the client as a Binary frame.
// Upstream EOS closes with code 1000 (graceful); any other read error
// closes with code 1001.
func relayUpstreamToClient(upstreamConn net.Conn, cl *closer) error {
	buf := make([]byte, dataChunkSize)
	for {
		n, err := upstreamConn.Read(buf)
		if n > 0 {
			if werr := cl.sendBinary(buf[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				cl.startClosing(CloseNormal, false)
				return nil
			}
			cl.startClosing(CloseUpstreamError, false)
			return nil
		}
	}
}

// relayClientToUpstream decodes WebSocket frames from the client,
// forwarding Data payloads straight to upstream and dispatching control
// frames (Close, Ping, Pong) to the closer.
func relayClientToUpstream(wsReader *bufio.Reader, upstreamConn net.Conn, cl *closer) error {
	for {
		frame, err := decodeFrame(wsReader, upstreamConn)
		if err != nil {
			if errors.Is(err, io.EOF) {
				// The client hung up without a Close frame: treat
				// WebSocket-stream EOS as a clean exit.
				return nil
			}
			cl.startClosing(CloseProtocolError, false)
			return nil
		}
		if frame == nil {
			// Data frame: its payload has already been streamed to
			// upstream by decodeFrame.
			continue
		}

		switch frame.Opcode {
		case OpcodeClose:
			cl.receiveClose(frame.Code)
			return nil
		case OpcodePing:
			if err := cl.sendPong(frame.Data); err != nil {
				return err
			}
		case OpcodePong:
			// Unsolicited Pong: this proxy never sends Ping, so there
			// is nothing to correlate it with. Ignore it.
		}
	}
}
