package rpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anthropics/gmengine/internal/logging"
)

// Handler processes one unary request and produces its reply. Handlers are
// registered at startup; the server itself carries no domain knowledge of
// facts, hyps, or objects (spec §4.3: "all others via a dispatch table
// registered at startup").
type Handler func(ctx context.Context, req Request) Response

// StreamHandler starts a subscription for one of the five stream commands
// (spec §4.3). It must push matching payloads to client.PushStream(streamID,
// ...) as they occur, and return a stop function invoked on stopStream.
type StreamHandler func(streamID string, client *Client, req Request) (stop func(), err error)

// IdleFunc is invoked whenever the server's inbound queue is empty; it
// implements quiescence/time-cap policy (spec §4.4.6) and returns true to
// stop the server loop.
type IdleFunc func(lastRequestAt time.Time) bool

type activeStream struct {
	client *Client
	stop   func()
}

// Server is the fabric's single inbound queue plus dispatch tables
// (spec §4.3). There is exactly one Server per game.
type Server struct {
	inbox chan Request

	mu       sync.RWMutex
	clients  map[string]*Client
	handlers map[string]Handler
	streams  map[string]StreamHandler
	active   map[string]activeStream

	idle         IdleFunc
	pollInterval time.Duration

	idGen func() string
}

// NewServer builds a server with the given idle policy. pollInterval bounds
// how often the idle function is invoked while the inbound queue is empty;
// a sensible default is used if zero.
func NewServer(idle IdleFunc, pollInterval time.Duration, streamIDGen func() string) *Server {
	if pollInterval <= 0 {
		pollInterval = 20 * time.Millisecond
	}
	return &Server{
		inbox:        make(chan Request, 256),
		clients:      make(map[string]*Client),
		handlers:     make(map[string]Handler),
		streams:      make(map[string]StreamHandler),
		active:       make(map[string]activeStream),
		idle:         idle,
		pollInterval: pollInterval,
		idGen:        streamIDGen,
	}
}

// RegisterHandler attaches a unary command handler.
func (s *Server) RegisterHandler(command string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[command] = h
}

// RegisterStreamHandler attaches one of the five stream command handlers.
func (s *Server) RegisterStreamHandler(command string, h StreamHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams[command] = h
}

// NewClient registers a fresh client for the given entity identity.
func (s *Server) NewClient(id EntityID) *Client {
	c := newClient(id, s)
	s.mu.Lock()
	s.clients[id.String()] = c
	s.mu.Unlock()
	return c
}

// RemoveClient detaches a client; pending replies to it are dropped.
func (s *Server) RemoveClient(id EntityID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[id.String()]; ok {
		c.Close()
		delete(s.clients, id.String())
	}
}

// submit enqueues a request for processing; called by Client.
func (s *Server) submit(req Request) error {
	select {
	case s.inbox <- req:
		return nil
	default:
		return fmt.Errorf("rpc: server inbox full, dropping request %s", req.ID)
	}
}

func (s *Server) clientFor(id EntityID) (*Client, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[id.String()]
	return c, ok
}

// Run drives the server loop (spec §4.3, §4.4.6) until the idle function
// reports quiescence or ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	lastRequestAt := time.Now()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.inbox:
			lastRequestAt = time.Now()
			s.dispatch(ctx, req)
		case <-ticker.C:
			select {
			case req := <-s.inbox:
				lastRequestAt = time.Now()
				s.dispatch(ctx, req)
			default:
				if s.idle != nil && s.idle(lastRequestAt) {
					logging.RPC("server loop stopping: idle policy reported quiescence")
					return
				}
			}
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req Request) {
	switch req.Command {
	case "startStream":
		s.handleStartStream(ctx, req)
	case "stopStream":
		s.handleStopStream(req)
	default:
		s.mu.RLock()
		h, ok := s.handlers[req.Command]
		s.mu.RUnlock()
		if !ok {
			s.reply(req, Response{RequestID: req.ID, Status: StatusError, Reason: fmt.Sprintf("unknown command %q", req.Command)})
			return
		}
		resp := h(ctx, req)
		resp.RequestID = req.ID
		if resp.Status == StatusPending {
			return
		}
		s.reply(req, resp)
	}
}

// Reply lets a Handler that returned StatusPending deliver its response once
// ready, addressed by the original caller's entity id and request id (spec
// §4.4.4: a waitTillFact with no immediate match is satisfied later by a
// subsequent fact insertion).
func (s *Server) Reply(to EntityID, requestID string, resp Response) {
	resp.RequestID = requestID
	s.reply(Request{From: to}, resp)
}

func (s *Server) handleStartStream(ctx context.Context, req Request) {
	inner, _ := req.Args["command"].(string)
	s.mu.RLock()
	handler, ok := s.streams[inner]
	s.mu.RUnlock()
	if !ok {
		s.reply(req, Response{RequestID: req.ID, Status: StatusError, Reason: fmt.Sprintf("unknown stream command %q", inner)})
		return
	}
	client, ok := s.clientFor(req.From)
	if !ok {
		s.reply(req, Response{RequestID: req.ID, Status: StatusError, Reason: "unknown client"})
		return
	}

	streamID := s.idGen()
	client.registerStream(streamID)
	stop, err := handler(streamID, client, req)
	if err != nil {
		s.reply(req, Response{RequestID: req.ID, Status: StatusError, Reason: err.Error()})
		return
	}
	s.mu.Lock()
	s.active[streamID] = activeStream{client: client, stop: stop}
	s.mu.Unlock()
	s.reply(req, Response{RequestID: req.ID, Status: StatusOK, Result: streamID})
}

func (s *Server) handleStopStream(req Request) {
	streamID, _ := req.Args["stream_id"].(string)
	s.mu.Lock()
	entry, ok := s.active[streamID]
	if ok {
		delete(s.active, streamID)
	}
	s.mu.Unlock()
	if ok && entry.stop != nil {
		entry.stop()
	}
	s.reply(req, Response{RequestID: req.ID, Status: StatusOK})
}

func (s *Server) reply(req Request, resp Response) {
	client, ok := s.clientFor(req.From)
	if !ok || client.isClosed() {
		return
	}
	client.deliver(resp)
}
