package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/planthopper/planthopper/internal/monitoring"
	"github.com/planthopper/planthopper/internal/pose"
)

// detectionPacket is the JSON payload the external detector process posts
// once per frame.
type detectionPacket struct {
	Markers []struct {
		ID      int           `json:"id"`
		Corners [4][2]float64 `json:"corners"`
	} `json:"markers"`
}

// UDPSource receives per-frame corner detections as JSON datagrams, one
// datagram per frame.
type UDPSource struct {
	conn *net.UDPConn
	buf  []byte
}

// ListenUDP opens a detection listener on addr (e.g. ":5005").
func ListenUDP(addr string) (*UDPSource, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve detection listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen for detections on %q: %w", addr, err)
	}
	return &UDPSource{conn: conn, buf: make([]byte, 64*1024)}, nil
}

// Next blocks until a well-formed datagram arrives or the context is
// cancelled. Malformed datagrams are logged and skipped; they do not stop
// snapshot production. Read deadlines are kept short so cancellation is
// observed promptly.
func (s *UDPSource) Next(ctx context.Context) (Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Frame{}, err
		}

		if err := s.conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
			return Frame{}, err
		}
		n, _, err := s.conn.ReadFromUDP(s.buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return Frame{}, err
		}

		var pkt detectionPacket
		if err := json.Unmarshal(s.buf[:n], &pkt); err != nil {
			monitoring.Logf("detection listener: dropping malformed datagram: %v", err)
			continue
		}

		frame := Frame{At: time.Now(), Corners: make(map[int]pose.Quad, len(pkt.Markers))}
		for _, m := range pkt.Markers {
			var q pose.Quad
			for i := 0; i < 4; i++ {
				q[i] = pose.Point2{X: m.Corners[i][0], Y: m.Corners[i][1]}
			}
			frame.Corners[m.ID] = q
		}
		return frame, nil
	}
}

// Close closes the underlying socket.
func (s *UDPSource) Close() error {
	return s.conn.Close()
}

// LocalAddr returns the bound address, useful when listening on port 0.
func (s *UDPSource) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}
