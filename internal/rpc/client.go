package rpc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anthropics/gmengine/internal/gmerrors"
	"github.com/anthropics/gmengine/internal/logging"
)

// Client is one entity's endpoint on the fabric: its own inbound queue plus
// the ignore/timeout bookkeeping spec §4.3 requires. Per spec §5, a Client
// is driven by exactly one consumer goroutine (the entity's worker); the
// mutex here only guards against the server's delivery goroutine racing
// that consumer.
type Client struct {
	id     EntityID
	server *Server

	mu       sync.Mutex
	ignores  map[string]bool
	timeouts map[string]bool
	streams  map[string]chan StreamPayload

	inbox   chan Response
	reqSeq  uint64
	closed  int32
}

func newClient(id EntityID, server *Server) *Client {
	return &Client{
		id:       id,
		server:   server,
		ignores:  make(map[string]bool),
		timeouts: make(map[string]bool),
		streams:  make(map[string]chan StreamPayload),
		inbox:    make(chan Response, 8),
	}
}

// ID returns the client's entity identity.
func (c *Client) ID() EntityID { return c.id }

func (c *Client) nextRequestID() string {
	n := atomic.AddUint64(&c.reqSeq, 1)
	return fmt.Sprintf("%s-%d", c.id.String(), n)
}

// SendAndWait issues a unary request and blocks for the matching reply
// (spec §4.3). timeout == 0 waits forever. On timeout the request id is
// added to the client's "timeouts" set so a late reply is dropped on
// arrival, and *gmerrors.RPCTimeoutError is returned.
func (c *Client) SendAndWait(ctx context.Context, command string, args map[string]interface{}, timeout time.Duration) (interface{}, error) {
	reqID := c.nextRequestID()
	req := Request{ID: reqID, From: c.id, Command: command, Args: args}

	if err := c.server.submit(req); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		select {
		case resp := <-c.inbox:
			if resp.RequestID != reqID {
				// Stray reply for a request we've already abandoned; drop.
				continue
			}
			if resp.Status == StatusError {
				return nil, &gmerrors.ConsoleError{Reason: resp.Reason}
			}
			return resp.Result, nil
		case <-timeoutCh:
			c.mu.Lock()
			c.timeouts[reqID] = true
			c.mu.Unlock()
			logging.RPCDebug("client %s: request %s (%s) timed out", c.id, reqID, command)
			return nil, &gmerrors.RPCTimeoutError{Command: command}
		case <-ctx.Done():
			c.mu.Lock()
			c.timeouts[reqID] = true
			c.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// SendAndIgnore issues a unary request and marks its reply to be dropped on
// arrival; the caller never blocks for a response.
func (c *Client) SendAndIgnore(command string, args map[string]interface{}) error {
	reqID := c.nextRequestID()
	req := Request{ID: reqID, From: c.id, Command: command, Args: args}
	c.mu.Lock()
	c.ignores[reqID] = true
	c.mu.Unlock()
	return c.server.submit(req)
}

// deliver is called by the server to push a unary reply into this client's
// inbox. Replies for timed-out or ignored requests are dropped silently.
func (c *Client) deliver(resp Response) {
	c.mu.Lock()
	if c.timeouts[resp.RequestID] {
		delete(c.timeouts, resp.RequestID)
		c.mu.Unlock()
		return
	}
	if c.ignores[resp.RequestID] {
		delete(c.ignores, resp.RequestID)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	select {
	case c.inbox <- resp:
	default:
		logging.RPCDebug("client %s: inbox full, dropping reply to %s", c.id, resp.RequestID)
	}
}

// StartStream opens a stream for one of the five stream commands (spec
// §4.3's start_stream(command, args) -> stream_id). The server dispatches
// "startStream" internally, looking up the inner stream command by name.
func (c *Client) StartStream(ctx context.Context, command string, args map[string]interface{}) (string, error) {
	wrapped := map[string]interface{}{"command": command}
	for k, v := range args {
		wrapped[k] = v
	}
	result, err := c.SendAndWait(ctx, "startStream", wrapped, 0)
	if err != nil {
		return "", err
	}
	streamID, ok := result.(string)
	if !ok {
		return "", fmt.Errorf("rpc: %s did not return a stream id", command)
	}
	return streamID, nil
}

// registerStream lets the server attach the queue for a stream it created
// on this client's behalf (used when the server assigns the stream id).
func (c *Client) registerStream(streamID string) chan StreamPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan StreamPayload, 16)
	c.streams[streamID] = ch
	return ch
}

// GetStream receives the next payload for a stream, blocking until one
// arrives, the stream is stopped, or timeout elapses (0 = forever).
func (c *Client) GetStream(ctx context.Context, streamID string, timeout time.Duration) (StreamPayload, error) {
	c.mu.Lock()
	ch, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return StreamPayload{}, fmt.Errorf("rpc: unknown stream %s", streamID)
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case payload, open := <-ch:
		if !open {
			return StreamPayload{}, fmt.Errorf("rpc: stream %s closed", streamID)
		}
		return payload, nil
	case <-timeoutCh:
		return StreamPayload{}, &gmerrors.StreamTimeoutError{StreamID: streamID}
	case <-ctx.Done():
		return StreamPayload{}, ctx.Err()
	}
}

// StopStream is the sole cancellation primitive for streams (spec §4.3).
func (c *Client) StopStream(ctx context.Context, streamID string) error {
	_, err := c.SendAndWait(ctx, "stopStream", map[string]interface{}{"stream_id": streamID}, 0)
	c.mu.Lock()
	if ch, ok := c.streams[streamID]; ok {
		close(ch)
		delete(c.streams, streamID)
	}
	c.mu.Unlock()
	return err
}

// pushStream delivers one payload to an open stream queue; silently dropped
// if the stream was already stopped.
func (c *Client) pushStream(streamID string, payload StreamPayload) {
	c.mu.Lock()
	ch, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- payload:
	default:
		logging.RPCDebug("client %s: stream %s queue full, dropping payload", c.id, streamID)
	}
}

// ReplaceStream delivers one payload to a stream queue, discarding the
// oldest undelivered payload first if the queue is full (spec §6.1's
// only_latest streams: the consumer only ever sees the most recent value).
func (c *Client) ReplaceStream(streamID string, payload StreamPayload) {
	c.mu.Lock()
	ch, ok := c.streams[streamID]
	c.mu.Unlock()
	if !ok {
		return
	}
	for {
		select {
		case ch <- payload:
			return
		default:
		}
		select {
		case <-ch:
		default:
			return
		}
	}
}

// PushStream delivers one payload to an open stream queue. Exported so
// domain code outside the rpc package (the GameMaster) can fan out fact/hyp/
// object notifications to subscribers it tracks itself.
func (c *Client) PushStream(streamID string, payload StreamPayload) {
	c.pushStream(streamID, payload)
}

// Close marks the client as detached; the server stops routing to it.
func (c *Client) Close() {
	atomic.StoreInt32(&c.closed, 1)
}

func (c *Client) isClosed() bool {
	return atomic.LoadInt32(&c.closed) == 1
}
