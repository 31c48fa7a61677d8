// Package relay forwards RTP video from an ingest socket to playing sessions.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"
	"github.com/wh8199/log"

	"github.com/galaxy-iot/media-relay/rtsp"
)

// AnyPayloadType disables the payload type check.
const AnyPayloadType = -1

// maximum size of a UDP datagram
const maxPacketSize = 1472

var ErrPayloadType = errors.New("unexpected payload type")

// Relay fans out RTP packets to every playing session.
type Relay struct {
	payloadType atomic.Int64

	mutex    sync.RWMutex
	sessions map[*rtsp.Session]struct{}

	forwarded atomic.Uint64
	dropped   atomic.Uint64
}

// New allocates a Relay. Packets whose payload type differs from
// payloadType are dropped, unless payloadType is AnyPayloadType.
func New(payloadType int) *Relay {
	r := &Relay{
		sessions: map[*rtsp.Session]struct{}{},
	}
	r.payloadType.Store(int64(payloadType))
	return r
}

// SetPayloadType changes the accepted payload type, for instance after
// the session description has been reloaded.
func (r *Relay) SetPayloadType(payloadType int) {
	r.payloadType.Store(int64(payloadType))
}

// Attach follows the state of a session: it receives packets while playing.
func (r *Relay) Attach(s *rtsp.Session) {
	s.OnResume(func() { r.add(s) })
	s.OnPause(func() { r.remove(s) })
	s.OnClose(func() { r.remove(s) })

	if !s.IsPaused() {
		r.add(s)
	}
}

func (r *Relay) add(s *rtsp.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if s.IsClosed() {
		return
	}
	r.sessions[s] = struct{}{}
}

func (r *Relay) remove(s *rtsp.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, s)
}

// Len returns the number of playing sessions.
func (r *Relay) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.sessions)
}

// Stats returns the number of forwarded and dropped packets.
func (r *Relay) Stats() (forwarded uint64, dropped uint64) {
	return r.forwarded.Load(), r.dropped.Load()
}

func (r *Relay) check(pkt []byte) error {
	var h rtp.Header
	if _, err := h.Unmarshal(pkt); err != nil {
		return err
	}

	payloadType := int(r.payloadType.Load())
	if payloadType != AnyPayloadType && int(h.PayloadType) != payloadType {
		return fmt.Errorf("%w: %d", ErrPayloadType, h.PayloadType)
	}

	return nil
}

func (r *Relay) playing() []*rtsp.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ret := make([]*rtsp.Session, 0, len(r.sessions))
	for s := range r.sessions {
		ret = append(ret, s)
	}
	return ret
}

// Forward sends an unmodified RTP packet to every playing session and
// returns the number of sessions it was delivered to.
func (r *Relay) Forward(pkt []byte) int {
	if err := r.check(pkt); err != nil {
		r.dropped.Add(1)
		return 0
	}

	n := 0
	for _, s := range r.playing() {
		if err := s.SendVideoPacket(pkt); err != nil {
			if !errors.Is(err, rtsp.ErrSessionClosed) {
				log.Error(err)
			}
			continue
		}
		n++
	}

	r.forwarded.Add(1)
	return n
}

// Serve reads packets from pc and forwards them until ctx is done.
func (r *Relay) Serve(ctx context.Context, pc net.PacketConn) error {
	done := make(chan struct{})
	defer close(done)

	go func() {
		select {
		case <-ctx.Done():
			// unblock ReadFrom
			pc.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	log.Info(fmt.Sprintf("relay reading RTP from %s", pc.LocalAddr()))

	buf := make([]byte, maxPacketSize)
	for {
		n, _, err := pc.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		r.Forward(buf[:n])
	}
}
