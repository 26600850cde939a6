package transports

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// flushWindow bounds how long Flush waits for stale bytes.
const flushWindow = 2 * time.Millisecond

// TCPTransport implements Transport over a TCP serial bridge, as used by
// networked lab racks.
type TCPTransport struct {
	conn    net.Conn
	address string
	timeout time.Duration
}

// TCPConfig holds configuration for connecting to a TCP serial bridge.
type TCPConfig struct {
	// Address is host or host:port.
	Address string
	// DefaultPort is used when Address has no port.
	DefaultPort int
	Timeout     time.Duration
}

// DialTCP connects to the bridge at cfg.Address.
func DialTCP(cfg TCPConfig) (*TCPTransport, error) {
	if cfg.Address == "" {
		return nil, errors.New("bridge address is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}

	address := cfg.Address
	if _, _, err := net.SplitHostPort(address); err != nil {
		if cfg.DefaultPort == 0 {
			return nil, fmt.Errorf("bridge address %q has no port", address)
		}
		address = net.JoinHostPort(address, strconv.Itoa(cfg.DefaultPort))
	}

	conn, err := net.DialTimeout("tcp", address, cfg.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}

	return &TCPTransport{
		conn:    conn,
		address: address,
		timeout: cfg.Timeout,
	}, nil
}

// Read returns 0 bytes and no error when the read timeout expires, like a
// serial port does.
func (t *TCPTransport) Read(p []byte) (int, error) {
	if err := t.conn.SetReadDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if isTimeout(err) {
		return n, nil
	}
	return n, err
}

func (t *TCPTransport) Write(p []byte) (int, error) {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.timeout)); err != nil {
		return 0, err
	}
	return t.conn.Write(p)
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}

func (t *TCPTransport) SetReadTimeout(timeout time.Duration) error {
	t.timeout = timeout
	return nil
}

// Flush reads and discards whatever the bridge has already sent.
func (t *TCPTransport) Flush() error {
	buf := make([]byte, 4096)
	for {
		if err := t.conn.SetReadDeadline(time.Now().Add(flushWindow)); err != nil {
			return err
		}
		n, err := t.conn.Read(buf)
		if isTimeout(err) || n == 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Address returns the bridge address including the port.
func (t *TCPTransport) Address() string {
	return t.address
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
