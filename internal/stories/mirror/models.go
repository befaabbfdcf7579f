package mirror

import (
	"time"

	"kurut-provisioner/internal/panel"
)

// Inbound is the last observed state of a remote inbound. Identity is
// (ServerID, Port).
type Inbound struct {
	ID             int64
	ServerID       int64
	RemoteID       int
	Port           int
	Protocol       panel.Protocol
	Transport      string
	Security       string
	Remark         string
	Enable         bool
	ExpiryTime     int64
	Up             int64
	Down           int64
	Total          int64
	Settings       string
	StreamSettings string
	Sniffing       string
	UpdatedAt      time.Time
}

// Client is the last observed state of a client account. Identity is
// (InboundID, Credential). Rows are never deleted; a purged client keeps its
// final counters and gets RemovedAt.
type Client struct {
	ID         int64
	InboundID  int64
	Credential string
	Email      string
	TotalBytes int64
	Up         int64
	Down       int64
	ExpiryTime int64
	Enable     bool
	SubID      string
	LimitIP    int
	Flow       string
	RemovedAt  *time.Time
	UpdatedAt  time.Time
}

// Snapshot is one remote inbound with its clients, ready to upsert.
type Snapshot struct {
	Inbound Inbound
	Clients []Client
}

// WriteStats counts rows that were inserted or actually changed.
type WriteStats struct {
	Inbounds int
	Clients  int
}

type InboundCriteria struct {
	ID       *int64
	ServerID *int64
	Port     *int
}

type ClientCriteria struct {
	InboundID      *int64
	ServerID       *int64
	Credential     *string
	IncludeRemoved bool
	Limit          int
	Offset         int
}
