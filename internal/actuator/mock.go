package actuator

import (
	"bytes"
	"errors"
	"sync"
	"time"
)

// MockPort implements Porter with configurable behaviour for tests and for
// dev mode, where no actuator hardware is attached.
type MockPort struct {
	mu sync.Mutex

	readBuf  bytes.Buffer
	writeBuf bytes.Buffer

	writeErr   error
	shortWrite bool
	closed     bool

	readCond *sync.Cond
}

// NewMockPort returns an empty MockPort.
func NewMockPort() *MockPort {
	p := &MockPort{}
	p.readCond = sync.NewCond(&p.mu)
	return p
}

// NewScriptedMockPort returns a MockPort that replays the given lines on its
// read side at the given period, simulating inbound firmware telemetry.
func NewScriptedMockPort(lines []string, period time.Duration) *MockPort {
	p := NewMockPort()
	if len(lines) == 0 {
		return p
	}
	go func() {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		i := 0
		for range ticker.C {
			if !p.FeedLine(lines[i%len(lines)]) {
				return
			}
			i++
		}
	}()
	return p
}

// FeedLine appends one inbound line (newline added) to the read side and
// wakes blocked readers. It reports false once the port is closed.
func (p *MockPort) FeedLine(line string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.readBuf.WriteString(line)
	p.readBuf.WriteByte('\n')
	p.readCond.Broadcast()
	return true
}

// Read blocks until inbound data is available or the port is closed.
func (p *MockPort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.readBuf.Len() == 0 && !p.closed {
		p.readCond.Wait()
	}
	if p.closed && p.readBuf.Len() == 0 {
		return 0, errors.New("mock port closed")
	}
	return p.readBuf.Read(buf)
}

// Write captures outbound data, honouring any configured write failure.
func (p *MockPort) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, errors.New("mock port closed")
	}
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	if p.shortWrite && len(data) > 1 {
		return p.writeBuf.Write(data[:len(data)/2])
	}
	return p.writeBuf.Write(data)
}

// Close marks the port closed and wakes blocked readers.
func (p *MockPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.readCond.Broadcast()
	return nil
}

// SetWriteError makes subsequent writes fail with err (nil restores writes).
func (p *MockPort) SetWriteError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writeErr = err
}

// SetShortWrite makes subsequent writes accept only half of each payload.
func (p *MockPort) SetShortWrite(short bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shortWrite = short
}

// Written returns everything written to the port so far.
func (p *MockPort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writeBuf.String()
}
