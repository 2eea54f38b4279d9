// Package actuator provides the duplex serial channel to the embedded
// actuator controller.
//
// A single Link owns the physical port. Writes are mutually exclusive so two
// command lines never interleave on the wire; within one link, lines go out in
// the order their writer acquired the lock. Inbound lines are read by one
// Monitor goroutine and fanned out to subscribers without blocking it.
package actuator

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrShortWrite indicates the port accepted fewer bytes than one full line.
var ErrShortWrite = errors.New("short write to serial port")

// Link is the serial channel shared by all control sessions.
type Link struct {
	port Porter

	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]chan string

	closingMu sync.Mutex
	closing   bool
}

// NewLink wraps an open port.
func NewLink(port Porter) *Link {
	return &Link{
		port: port,
		subs: make(map[string]chan string),
	}
}

// Send writes one command line to the port. The writer lock is held only for
// the duration of this one write. A missing trailing newline is added. Write
// failures are returned to the caller and are never fatal: the port stays
// usable for the next attempt.
func (l *Link) Send(line string) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	n, err := l.port.Write([]byte(line))
	if err != nil {
		return err
	}
	if n != len(line) {
		return ErrShortWrite
	}
	return nil
}

// Subscribe registers a channel receiving inbound lines from the Monitor
// loop. The returned id identifies the subscription for Unsubscribe. Delivery
// is best-effort: a subscriber that is not ready misses the line rather than
// stalling the reader.
func (l *Link) Subscribe() (string, chan string) {
	id := uuid.NewString()
	ch := make(chan string, 16)

	l.subMu.Lock()
	defer l.subMu.Unlock()
	l.subs[id] = ch
	return id, ch
}

// Unsubscribe removes and closes a subscription.
func (l *Link) Unsubscribe(id string) {
	l.subMu.Lock()
	defer l.subMu.Unlock()
	if ch, ok := l.subs[id]; ok {
		close(ch)
		delete(l.subs, id)
	}
}

// ReceiveLine returns the next inbound line, or ok=false if none arrives
// within the timeout. It never blocks past the timeout. Monitor must be
// running for lines to arrive.
func (l *Link) ReceiveLine(timeout time.Duration) (string, bool) {
	id, ch := l.Subscribe()
	defer l.Unsubscribe(id)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case line, ok := <-ch:
		return line, ok
	case <-timer.C:
		return "", false
	}
}

// Monitor reads lines from the port until the context is cancelled, the port
// errors out, or Close is called, delivering each line to all subscribers.
func (l *Link) Monitor(ctx context.Context) error {
	scan := bufio.NewScanner(l.port)

	lineChan := make(chan string)
	scanErrChan := make(chan error, 1)

	// The blocking scan.Scan runs in its own goroutine so the outer loop
	// stays responsive to context cancellation.
	go func() {
		defer close(lineChan)
		for scan.Scan() {
			select {
			case lineChan <- scan.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scan.Err(); err != nil {
			select {
			case scanErrChan <- err:
			case <-ctx.Done():
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-scanErrChan:
			return err

		case line, ok := <-lineChan:
			if !ok {
				return scan.Err()
			}

			l.closingMu.Lock()
			closing := l.closing
			l.closingMu.Unlock()
			if closing {
				return nil
			}

			l.subMu.Lock()
			for _, ch := range l.subs {
				select {
				case ch <- line:
				default:
				}
			}
			l.subMu.Unlock()
		}
	}
}

// Close closes all subscriptions and the underlying port.
func (l *Link) Close() error {
	l.closingMu.Lock()
	l.closing = true
	l.closingMu.Unlock()

	l.subMu.Lock()
	for id, ch := range l.subs {
		close(ch)
		delete(l.subs, id)
	}
	l.subMu.Unlock()

	return l.port.Close()
}
