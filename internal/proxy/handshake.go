package proxy

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// performHandshake validates the client's HTTP Upgrade request, dials
// the upstream server, and writes the handshake response, in that
// order. It returns the connected upstream socket on success. On any
// validation or dial failure, it writes the appropriate error response
// itself and returns a non-nil error; the caller's only remaining job
// is to close the client connection.
func performHandshake(wsConn net.Conn, wsWriter *bufio.Writer, wsReader *bufio.Reader, upstreamAddr string) (net.Conn, error) {
	req, err := http.ReadRequest(wsReader)
	if err != nil {
		writeErrorResponse(wsWriter, http.StatusBadRequest)
		return nil, invalidInput("malformed handshake request: %v", err)
	}

	key, err := validateHandshakeRequest(req)
	if err != nil {
		writeErrorResponse(wsWriter, http.StatusBadRequest)
		return nil, err
	}

	upstreamConn, err := net.Dial("tcp", upstreamAddr)
	if err != nil {
		writeErrorResponse(wsWriter, http.StatusServiceUnavailable)
		return nil, fmt.Errorf("failed to connect to upstream %s: %w", upstreamAddr, err)
	}

	if tcp, ok := upstreamConn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	if err := writeSwitchingProtocolsResponse(wsWriter, key); err != nil {
		_ = upstreamConn.Close()
		return nil, fmt.Errorf("failed to write handshake response: %w", err)
	}

	return upstreamConn, nil
}

// validateHandshakeRequest checks the request against RFC 6455's
// opening-handshake requirements and returns the captured
// Sec-WebSocket-Key on success.
func validateHandshakeRequest(req *http.Request) (string, error) {
	if req.Method != http.MethodGet {
		return "", invalidInput("method %q is not GET", req.Method)
	}
	if req.ProtoMajor != 1 || req.ProtoMinor != 1 {
		return "", invalidInput("HTTP version %d.%d is not 1.1", req.ProtoMajor, req.ProtoMinor)
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return "", invalidInput("missing or invalid Upgrade header")
	}
	if !hasConnectionUpgradeToken(req.Header.Get("Connection")) {
		return "", invalidInput("Connection header does not contain the Upgrade token")
	}
	if req.Header.Get("Sec-WebSocket-Version") != "13" {
		return "", invalidInput("unsupported Sec-WebSocket-Version %q", req.Header.Get("Sec-WebSocket-Version"))
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", invalidInput("missing Sec-WebSocket-Key header")
	}
	return key, nil
}

// hasConnectionUpgradeToken reports whether the comma-separated
// Connection header value contains the "Upgrade" token, case-insensitive
// and tolerant of surrounding whitespace.
func hasConnectionUpgradeToken(value string) bool {
	for _, tok := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			return true
		}
	}
	return false
}

// writeSwitchingProtocolsResponse writes the literal 101 response that
// completes the WebSocket opening handshake.
func writeSwitchingProtocolsResponse(w *bufio.Writer, key string) error {
	_, err := fmt.Fprintf(w, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Accept: %s\r\n\r\n", acceptHash(key))
	if err != nil {
		return err
	}
	return w.Flush()
}

// writeErrorResponse writes a minimal error response: the given status,
// "Content-Length: 0", no body. Write errors are swallowed here — the
// connection is about to be closed either way, and the caller already
// has the real error to report.
func writeErrorResponse(w *bufio.Writer, status int) {
	_, _ = fmt.Fprintf(w, "HTTP/1.1 %d %s\r\nContent-Length: 0\r\n\r\n", status, http.StatusText(status))
	_ = w.Flush()
}
