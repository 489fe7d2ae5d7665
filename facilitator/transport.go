package facilitator

import (
	"fmt"
	"net"
	"time"

	"github.com/x402kit/x402/logger"
)

// Transport is the minimal connection-accepting front end used when no real
// facilitator backend is configured. Every connection gets the same canned
// JSON body after a bounded read; none of the verify/settle logic lives
// here. Demo mode only.
type Transport struct {
	url string
	ln  net.Listener
	log logger.Logger
}

// StartTransport binds addr and starts answering connections in the
// background. Use addr ":0" to pick a free port; URL reports where the
// listener landed.
func StartTransport(addr string, log logger.Logger) (*Transport, error) {
	if log == nil {
		log = logger.NoopLogger{}
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}

	t := &Transport{
		url: "http://" + ln.Addr().String(),
		ln:  ln,
		log: log,
	}
	go t.acceptLoop()

	log.Info("facilitator transport ready", map[string]any{"url": t.url})
	return t, nil
}

// URL returns the base URL of the listener.
func (t *Transport) URL() string {
	return t.url
}

// Close stops accepting connections.
func (t *Transport) Close() error {
	return t.ln.Close()
}

func (t *Transport) acceptLoop() {
	for {
		conn, err := t.ln.Accept()
		if err != nil {
			return
		}
		go t.handle(conn)
	}
}

func (t *Transport) handle(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		t.log.Warn("transport read failed", map[string]any{"error": err.Error()})
		return
	}
	t.log.Debug("transport request", map[string]any{"remote": conn.RemoteAddr().String(), "bytes": n})

	body := fmt.Sprintf(`{"message":"Facilitator running","url":%q}`, t.url)
	fmt.Fprintf(conn, "HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
}
