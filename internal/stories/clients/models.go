package clients

import (
	"kurut-provisioner/internal/inboundcfg"
)

type Mode string

const (
	// ModeExtend adds to what is left.
	ModeExtend Mode = "extend"
	// ModeRenew starts over from now or from zero usage.
	ModeRenew Mode = "renew"
)

func (m Mode) Valid() bool {
	return m == ModeExtend || m == ModeRenew
}

// Target points at one inbound of a server, by remote id or, when the id is
// zero, by port.
type Target struct {
	ServerID  int64
	InboundID int
	Port      int
}

type AddParams struct {
	Target
	Plan  inboundcfg.PlanParams
	Count int
	// Label prefixes generated client emails.
	Label string
}

type CreateInboundParams struct {
	ServerID int64
	Plan     inboundcfg.PlanParams
	Port     int
	Remark   string
}

// SlotResult is the outcome of one requested account in an add batch.
type SlotResult struct {
	Credential string
	Email      string
	SubID      string
	Link       string
	Err        error
}

func (r SlotResult) OK() bool {
	return r.Err == nil
}

type AddResult struct {
	InboundID int
	Port      int
	Slots     []SlotResult
}

func (r *AddResult) Succeeded() []SlotResult {
	var out []SlotResult
	for _, s := range r.Slots {
		if s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// ClientState is a client as the panel holds it after an operation.
type ClientState struct {
	Credential string
	Email      string
	Enable     bool
	TotalBytes int64
	ExpiryTime int64
	Up         int64
	Down       int64
}

// Used is the consumed traffic in bytes.
func (c ClientState) Used() int64 {
	return c.Up + c.Down
}

// Remaining is the unused allotment in bytes; zero total means unlimited and
// yields -1.
func (c ClientState) Remaining() int64 {
	if c.TotalBytes == 0 {
		return -1
	}
	return max(c.TotalBytes-c.Used(), 0)
}

// DeleteSnapshot carries the last known counters of a deleted client.
type DeleteSnapshot struct {
	ClientState
	Purged bool
}
