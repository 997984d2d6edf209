package observer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"granamodel/internal/observerproto"
	"granamodel/internal/sim/agent"
	"granamodel/internal/sim/structure"
)

// Server streams run progress to WebSocket observers. It implements
// agent.ReportSink; publishing never blocks the simulation, a slow client
// simply misses messages.
type Server struct {
	log *log.Logger

	upgrader websocket.Upgrader
	nextID   atomic.Uint64

	mu        sync.RWMutex
	clients   map[string]*client
	bootstrap observerproto.BootstrapResponse

	dropped atomic.Uint64
}

type client struct {
	out chan []byte

	mu  sync.Mutex
	sub observerproto.SubscribeMsg
}

func (c *client) subscription() observerproto.SubscribeMsg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sub
}

func (c *client) setSubscription(sub observerproto.SubscribeMsg) {
	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()
}

func NewServer(logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		log:     logger,
		clients: map[string]*client{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		bootstrap: observerproto.BootstrapResponse{ProtocolVersion: observerproto.Version},
	}
}

// SetBootstrap replaces the static part of the bootstrap response.
func (s *Server) SetBootstrap(b observerproto.BootstrapResponse) {
	b.ProtocolVersion = observerproto.Version
	s.mu.Lock()
	runs := s.bootstrap.Runs
	s.bootstrap = b
	if len(b.Runs) == 0 {
		s.bootstrap.Runs = runs
	}
	s.mu.Unlock()
}

func (s *Server) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/observer/bootstrap", s.BootstrapHandler())
	mux.HandleFunc("/observer/ws", s.WSHandler())
	return mux
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		s.mu.RLock()
		resp := s.bootstrap
		resp.Runs = append([]string(nil), s.bootstrap.Runs...)
		s.mu.RUnlock()

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := parseSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		sid := fmt.Sprintf("O%d", s.nextID.Add(1))
		c := &client{out: make(chan []byte, 256), sub: sub}
		s.mu.Lock()
		s.clients[sid] = c
		s.mu.Unlock()
		s.log.Printf("observer %s joined run=%q zones=%v", sid, sub.RunID, sub.Zones)
		defer func() {
			s.mu.Lock()
			delete(s.clients, sid)
			s.mu.Unlock()
			s.log.Printf("observer %s left", sid)
		}()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		writeErr := make(chan error, 1)
		go func() {
			for {
				select {
				case <-ctx.Done():
					writeErr <- ctx.Err()
					return
				case b := <-c.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						writeErr <- err
						return
					}
				}
			}
		}()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			if sub, ok := parseSubscribe(msg); ok {
				c.setSubscription(sub)
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func parseSubscribe(msg []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(msg, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	sub.RunID = strings.TrimSpace(sub.RunID)
	return sub, true
}

// publish fans one message out to every matching client without blocking.
func (s *Server) publish(runID string, v any, want func(observerproto.SubscribeMsg) bool) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Printf("observer marshal: %v", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		sub := c.subscription()
		if sub.RunID != "" && sub.RunID != runID {
			continue
		}
		if want != nil && !want(sub) {
			continue
		}
		select {
		case c.out <- b:
		default:
			s.dropped.Add(1)
		}
	}
}

func (s *Server) RunStarted(runID string, seed int64, structures int) {
	s.mu.Lock()
	s.bootstrap.Runs = append(s.bootstrap.Runs, runID)
	s.mu.Unlock()
	s.publish(runID, observerproto.RunMsg{
		Type:            observerproto.TypeRun,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Seed:            seed,
		Structures:      structures,
	}, nil)
}

func (s *Server) RunFinished(runID string, sum agent.RunSummary, runErr error) {
	msg := observerproto.RunMsg{
		Type:            observerproto.TypeRun,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Done:            true,
		Sweeps:          sum.Sweeps,
		Reached:         sum.Reached,
		TrailingMean:    sum.TrailingMean,
	}
	if runErr != nil {
		msg.Error = runErr.Error()
	}
	s.publish(runID, msg, nil)
}

func (s *Server) ZoneDone(z agent.ZoneReport) {
	s.publish(z.RunID, observerproto.ZoneMsg{
		Type:            observerproto.TypeZone,
		ProtocolVersion: observerproto.Version,
		RunID:           z.RunID,
		Sweep:           z.Sweep,
		Zone:            z.Zone,
		Aggregate:       z.Aggregate,
		Size:            z.Size,
		Actions:         z.Actions,
		Accepted:        z.Accepted,
		Rejected:        z.Rejected,
		Mean:            z.Mean,
		Best:            z.Best,
		Snapshot:        z.Snapshot,
		ElapsedMS:       z.Elapsed.Milliseconds(),
	}, func(sub observerproto.SubscribeMsg) bool { return sub.Zones })
}

func (s *Server) SweepDone(r agent.SweepReport) {
	s.publish(r.RunID, observerproto.SweepMsg{
		Type:            observerproto.TypeSweep,
		ProtocolVersion: observerproto.Version,
		RunID:           r.RunID,
		Sweep:           r.Sweep,
		Samples:         r.Samples,
		Begin:           r.Begin,
		End:             r.End,
		Mean:            r.Mean,
		Reduction:       r.Reduction,
		ElapsedMS:       r.Elapsed.Milliseconds(),
	}, nil)
}

// PublishStructures streams the current poses to clients that asked for them.
func (s *Server) PublishStructures(runID string, sweep int, structs []*structure.Structure) {
	poses := make([]observerproto.PoseState, 0, len(structs))
	for _, st := range structs {
		p := st.Position()
		poses = append(poses, observerproto.PoseState{Type: st.Type, X: p.X, Y: p.Y, Angle: st.Angle()})
	}
	s.publish(runID, observerproto.StructuresMsg{
		Type:            observerproto.TypeStructures,
		ProtocolVersion: observerproto.Version,
		RunID:           runID,
		Sweep:           sweep,
		Structures:      poses,
	}, func(sub observerproto.SubscribeMsg) bool { return sub.Structures })
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
