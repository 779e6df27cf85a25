// Package rpc implements the in-process RPC fabric (spec §4.3): a server
// loop with per-client inboxes, unary request/response, and streaming
// subscriptions. It is strictly in-process — there is no wire encoding.
package rpc

import "fmt"

// EntityKind names the three analyzer families an RPC client can belong to
// (spec §4.3's entity identity).
type EntityKind string

const (
	EntityPlayer    EntityKind = "player"
	EntityNPC       EntityKind = "npc"
	EntityBackStory EntityKind = "backstory"
)

// EntityID identifies one RPC client: a kind, a stable id, and — for
// players only — a clone id distinguishing concurrent deliveries of the
// same player.
type EntityID struct {
	Kind    EntityKind
	ID      string
	CloneID string // empty for npc/backstory
}

func (e EntityID) String() string {
	if e.CloneID == "" {
		return fmt.Sprintf("%s:%s", e.Kind, e.ID)
	}
	return fmt.Sprintf("%s:%s#%s", e.Kind, e.ID, e.CloneID)
}

// Status is the outcome carried on a Response.
type Status string

const (
	StatusOK    Status = "ok"
	StatusError Status = "error"
	// StatusPending tells the dispatch loop that a Handler has taken
	// responsibility for replying later (spec §4.4.4's waitTillFact: no
	// match yet, the request is parked until a matching insertion arrives).
	// No immediate reply is sent; the handler must eventually call
	// Server.Reply with the same request id.
	StatusPending Status = "pending"
)

// Request is a value object travelling client→server.
type Request struct {
	ID     string
	From   EntityID
	Command string
	Args   map[string]interface{}
}

// Response is a value object travelling server→client, keyed to the
// request that produced it by ID.
type Response struct {
	RequestID string
	Status    Status
	Result    interface{}
	Reason    string
}

// StreamPayload is one item delivered over a stream queue (spec §4.3's
// stream commands: fact, hyp, or object payloads).
type StreamPayload struct {
	StreamID string
	Kind     string // "fact" | "hyp" | "object"
	Value    interface{}
}
