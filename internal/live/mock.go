package live

import (
	"context"
	"errors"
	"sync"
)

// MockAdapter is the in-process fallback backend used when no API key is
// configured, and the scripted backend in tests.
type MockAdapter struct {
	mu       sync.Mutex
	openErr  error
	conns    []*MockConn
	openCfgs []SessionConfig
}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

// FailOpenWith makes subsequent Open calls fail, for exercising the
// session-open failure path.
func (a *MockAdapter) FailOpenWith(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.openErr = err
}

func (a *MockAdapter) Open(_ context.Context, cfg SessionConfig) (Conn, <-chan Event, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.openErr != nil {
		return nil, nil, a.openErr
	}
	c := &MockConn{events: make(chan Event, 64)}
	a.conns = append(a.conns, c)
	a.openCfgs = append(a.openCfgs, cfg)
	return c, c.events, nil
}

// LastConn returns the most recently opened connection.
func (a *MockAdapter) LastConn() *MockConn {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.conns) == 0 {
		return nil
	}
	return a.conns[len(a.conns)-1]
}

// OpenedConfigs returns the configs passed to Open, in order.
func (a *MockAdapter) OpenedConfigs() []SessionConfig {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SessionConfig, len(a.openCfgs))
	copy(out, a.openCfgs)
	return out
}

// MockConn records everything sent and lets tests script inbound events.
type MockConn struct {
	mu         sync.Mutex
	events     chan Event
	sentAudio  [][]byte
	sentTexts  []string
	closed     bool
	closeCount int
	sendErr    error
}

// Emit pushes a scripted inbound event.
func (c *MockConn) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// Close takes the same lock, so the channel cannot be closed
	// between the check and the send.
	c.events <- ev
}

// FailSendsWith makes subsequent sends fail.
func (c *MockConn) FailSendsWith(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

func (c *MockConn) SendAudio(_ context.Context, pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send on closed session")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.sentAudio = append(c.sentAudio, buf)
	return nil
}

func (c *MockConn) SendText(_ context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("send on closed session")
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sentTexts = append(c.sentTexts, text)
	return nil
}

func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCount++
	if c.closed {
		return nil
	}
	c.closed = true
	close(c.events)
	return nil
}

func (c *MockConn) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.sentAudio))
	copy(out, c.sentAudio)
	return out
}

func (c *MockConn) SentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sentTexts))
	copy(out, c.sentTexts)
	return out
}

func (c *MockConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *MockConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
