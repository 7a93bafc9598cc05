// Package remote defines the request/response contract with a remote sync
// authority and an HTTP client for it.
package remote

import (
	"context"
	"time"
)

type PullRequest struct {
	// LastSync is nil to request every item.
	LastSync  *time.Time `json:"lastSync"`
	BatchSize int        `json:"batchSize"`
}

type PullResponse struct {
	Items []map[string]any `json:"items"`
}

// Change is one locally modified record. ID is the server identifier when
// the record has been synchronized before.
type Change struct {
	ID      string         `json:"id,omitempty"`
	Data    map[string]any `json:"data"`
	LocalID string         `json:"localId"`
}

type PushRequest struct {
	Changes []Change `json:"changes"`
}

type Ack struct {
	LocalID  string `json:"localId"`
	ServerID string `json:"serverId"`
	// UpdatedAt is the server change timestamp of the stored record.
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type Failure struct {
	LocalID string `json:"localId"`
	Error   string `json:"error"`
}

type PushResponse struct {
	Synchronized []Ack     `json:"synchronized"`
	Failed       []Failure `json:"failed,omitempty"`
}

// Remote is a sync authority.
type Remote interface {
	Pull(ctx context.Context, req PullRequest) (PullResponse, error)
	Push(ctx context.Context, req PushRequest) (PushResponse, error)
}

// Funcs adapts plain functions to Remote.
type Funcs struct {
	PullFunc func(ctx context.Context, req PullRequest) (PullResponse, error)
	PushFunc func(ctx context.Context, req PushRequest) (PushResponse, error)
}

func (f Funcs) Pull(ctx context.Context, req PullRequest) (PullResponse, error) {
	if f.PullFunc == nil {
		return PullResponse{}, nil
	}
	return f.PullFunc(ctx, req)
}

func (f Funcs) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	if f.PushFunc == nil {
		return PushResponse{}, nil
	}
	return f.PushFunc(ctx, req)
}
