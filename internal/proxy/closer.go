package proxy

import (
	"net"
	"sync"

	"github.com/rs/zerolog"
)

// closingState tracks the WebSocket closing handshake for one
// connection: NotYet -> InProgress -> Closed.
type closingState int

const (
	closingNotYet closingState = iota
	closingInProgress
	closingClosed
)

// Close codes the proxy originates.
const (
	CloseNormal        uint16 = 1000 // Upstream reached EOS gracefully.
	CloseUpstreamError uint16 = 1001 // I/O failure talking to upstream.
	CloseProtocolError uint16 = 1002 // Malformed or out-of-contract WebSocket traffic.
)

// closer is the single owner of a connection's closing state and of
// every frame written back to the client. Both relay goroutines call
// into it instead of writing to wsConn directly, which is what keeps
// the closing handshake race-free under a goroutine-per-direction
// relay design.
type closer struct {
	logger zerolog.Logger

	mu           sync.Mutex
	wsConn       net.Conn
	upstreamConn net.Conn
	state        closingState
	clientClosed bool
	closeSent    bool

	upstreamCloseOnce sync.Once
}

func newCloser(logger zerolog.Logger, wsConn, upstreamConn net.Conn) *closer {
	return &closer{logger: logger, wsConn: wsConn, upstreamConn: upstreamConn}
}

// sendBinary writes upstream-sourced bytes to the client as a single
// Binary frame. Called by relayUpstreamToClient.
func (c *closer) sendBinary(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == closingClosed {
		return nil
	}
	return encodeBinaryFrame(c.wsConn, payload)
}

// sendPong replies to a client Ping with a Pong carrying the same data.
// Called by relayClientToUpstream.
func (c *closer) sendPong(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != closingNotYet {
		// Ping is only answered while closing hasn't started; once it
		// has, the connection is winding down.
		return nil
	}
	return encodeControlFrame(c.wsConn, OpcodePong, data)
}

// startClosing begins the closing handshake: it is a no-op if closing
// has already begun, and otherwise writes the single outbound Close
// frame this connection will ever send and drops the upstream socket so
// any goroutine still blocked reading it unblocks.
func (c *closer) startClosing(code uint16, clientClosed bool) {
	c.mu.Lock()
	alreadyClosing := c.state != closingNotYet
	if !alreadyClosing {
		c.state = closingInProgress
		c.clientClosed = clientClosed
	}
	c.mu.Unlock()

	if alreadyClosing {
		if clientClosed {
			c.markClientClosed()
		}
		return
	}

	c.logger.Info().Uint16("close_code", code).Bool("client_closed", clientClosed).
		Msg("starting WebSocket closing handshake")

	c.closeUpstream()

	c.mu.Lock()
	err := encodeControlFrame(c.wsConn, OpcodeClose, closePayload(code, nil))
	if err == nil {
		c.closeSent = true
	}
	c.maybeFinish()
	c.mu.Unlock()

	if err != nil {
		c.logger.Warn().Err(err).Msg("failed to write outbound close frame")
	}
}

// receiveClose handles a Close frame decoded from the client. Called by
// relayClientToUpstream.
func (c *closer) receiveClose(code uint16) {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	if state == closingNotYet {
		c.startClosing(code, true)
		return
	}
	c.markClientClosed()
}

func (c *closer) markClientClosed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientClosed = true
	c.maybeFinish()
}

// maybeFinish transitions InProgress -> Closed once the outbound Close
// has been written and the client's own Close has been observed. Must
// be called with mu held.
func (c *closer) maybeFinish() {
	if c.state == closingInProgress && c.closeSent && c.clientClosed {
		c.state = closingClosed
	}
}

// closed reports whether the closing handshake has fully completed.
func (c *closer) closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == closingClosed
}

func (c *closer) closeUpstream() {
	c.upstreamCloseOnce.Do(func() {
		_ = c.upstreamConn.Close()
	})
}

// closePayload builds a Close frame's payload: a big-endian status code
// followed by an optional UTF-8 reason. Proxy-originated closes always
// use an empty reason.
func closePayload(code uint16, reason []byte) []byte {
	buf := make([]byte, 2+len(reason))
	buf[0] = byte(code >> 8)
	buf[1] = byte(code)
	copy(buf[2:], reason)
	return buf
}
