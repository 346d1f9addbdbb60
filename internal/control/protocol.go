package control

import (
	"github.com/leonardcser/flash-offline/internal/cache"
	"github.com/leonardcser/flash-offline/internal/lifecycle"
	"github.com/leonardcser/flash-offline/internal/worker"
)

// Simple JSON protocol between pages and the worker host over a Unix domain
// socket. Requests on one connection are answered in order.

const (
	OpStatus     = "status"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
	OpWaiting    = "waiting"
	OpMessage    = "message"
	OpNext       = "next"
	OpMatch      = "match"
	OpStats      = "stats"
	OpUpdate     = "update"
)

type Request struct {
	Op      string             `json:"op"`
	Client  string             `json:"client,omitempty"`
	Message *lifecycle.Message `json:"message,omitempty"`
	URL     string             `json:"url,omitempty"`
	// WaitMS bounds a "next" long-poll.
	WaitMS int64 `json:"wait_ms,omitempty"`
}

type Response struct {
	OK           bool                   `json:"ok"`
	Error        string                 `json:"error,omitempty"`
	Code         string                 `json:"code,omitempty"`
	Client       string                 `json:"client,omitempty"`
	Status       *worker.Status         `json:"status,omitempty"`
	Waiting      bool                   `json:"waiting,omitempty"`
	Notification *lifecycle.Envelope    `json:"notification,omitempty"`
	Entry        *cache.Response        `json:"entry,omitempty"`
	Partitions   []cache.PartitionStats `json:"partitions,omitempty"`
	Worker       *worker.WorkerInfo     `json:"worker,omitempty"`
}
