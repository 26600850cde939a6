package transports

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"
)

// echoBridge accepts one connection and answers every line with "#" + line.
func echoBridge(t *testing.T) (addr string, port int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if _, err := conn.Write([]byte("#" + line)); err != nil {
				return
			}
		}
	}()

	return ln.Addr().String(), ln.Addr().(*net.TCPAddr).Port
}

func TestTCPTransport_RoundTrip(t *testing.T) {
	addr, _ := echoBridge(t)

	tr, err := DialTCP(TCPConfig{Address: addr, Timeout: 500 * time.Millisecond})
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer tr.Close()

	if _, err := tr.Write([]byte("1:254?\r\n")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	want := "#1:254?\r\n"
	var got []byte
	buf := make([]byte, 64)
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if string(got) != want {
		t.Errorf("read %q, want %q", got, want)
	}
}

func TestTCPTransport_ReadTimeout(t *testing.T) {
	addr, _ := echoBridge(t)

	tr, err := DialTCP(TCPConfig{Address: addr})
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer tr.Close()

	if err := tr.SetReadTimeout(20 * time.Millisecond); err != nil {
		t.Fatalf("SetReadTimeout failed: %v", err)
	}

	start := time.Now()
	n, err := tr.Read(make([]byte, 16))
	if n != 0 || err != nil {
		t.Errorf("Read on idle bridge = %d, %v, want 0, nil", n, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Read blocked for %v", elapsed)
	}
}

func TestTCPTransport_Flush(t *testing.T) {
	addr, _ := echoBridge(t)

	tr, err := DialTCP(TCPConfig{Address: addr, Timeout: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer tr.Close()

	tr.Write([]byte("stale\r\n"))
	time.Sleep(50 * time.Millisecond)

	if err := tr.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if n, _ := tr.Read(make([]byte, 16)); n != 0 {
		t.Errorf("read %d stale bytes after Flush", n)
	}
}

func TestDialTCP_DefaultPort(t *testing.T) {
	_, port := echoBridge(t)

	tr, err := DialTCP(TCPConfig{Address: "127.0.0.1", DefaultPort: port})
	if err != nil {
		t.Fatalf("DialTCP failed: %v", err)
	}
	defer tr.Close()

	if want := "127.0.0.1:" + strconv.Itoa(port); tr.Address() != want {
		t.Errorf("Address() = %q, want %q", tr.Address(), want)
	}
}

func TestDialTCP_Errors(t *testing.T) {
	if _, err := DialTCP(TCPConfig{}); err == nil {
		t.Error("expected error for empty address")
	}
	if _, err := DialTCP(TCPConfig{Address: "localhost"}); err == nil {
		t.Error("expected error for address without port")
	}
}
