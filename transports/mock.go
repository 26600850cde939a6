package transports

import (
	"bytes"
	"time"
)

// MockTransport implements Transport for testing.
type MockTransport struct {
	ReadData    []byte
	ReadErr     error
	WriteData   []byte
	WriteErr    error
	FlushErr    error
	Closed      bool
	CloseCount  int
	ReadTimeout time.Duration
	Flushed     int

	// ReadFunc allows custom read behavior for complex tests
	ReadFunc func(p []byte) (int, error)

	// Respond, if set, is called with every written frame and its result is
	// appended to ReadData, so replies only exist after the request.
	Respond func(frame []byte) []byte
}

func (m *MockTransport) Read(p []byte) (int, error) {
	if m.ReadFunc != nil {
		return m.ReadFunc(p)
	}
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	// An empty buffer reads like an expired read timeout.
	n := copy(p, m.ReadData)
	m.ReadData = m.ReadData[n:]
	return n, nil
}

func (m *MockTransport) Write(p []byte) (int, error) {
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	m.WriteData = append(m.WriteData, p...)
	if m.Respond != nil {
		m.ReadData = append(m.ReadData, m.Respond(p)...)
	}
	return len(p), nil
}

func (m *MockTransport) Close() error {
	m.Closed = true
	m.CloseCount++
	return nil
}

func (m *MockTransport) SetReadTimeout(timeout time.Duration) error {
	m.ReadTimeout = timeout
	return nil
}

func (m *MockTransport) Flush() error {
	m.Flushed++
	if m.FlushErr != nil {
		return m.FlushErr
	}
	// Don't clear ReadData - tests need to preserve mock response data
	return nil
}

// Frames returns the written data split into lines without CR LF.
func (m *MockTransport) Frames() []string {
	var frames []string
	for _, line := range bytes.Split(m.WriteData, []byte("\r\n")) {
		if len(line) > 0 {
			frames = append(frames, string(line))
		}
	}
	return frames
}
