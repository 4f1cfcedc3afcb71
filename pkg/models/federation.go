package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// RoundState is the lifecycle state of a training round. Transitions are
// monotonic: OPEN -> COLLECTING -> AGGREGATING -> CLOSED.
type RoundState string

const (
	RoundOpen        RoundState = "OPEN"
	RoundCollecting  RoundState = "COLLECTING"
	RoundAggregating RoundState = "AGGREGATING"
	RoundClosed      RoundState = "CLOSED"
)

// WeightDelta is the parsed form of a client's serialized weight delta:
// one float64 slice per model layer. Strings/raw JSON are wire format only;
// everything past the intake boundary works on this type.
type WeightDelta [][]float64

// Shape returns the per-layer element counts of the delta.
func (d WeightDelta) Shape() []int {
	shape := make([]int, len(d))
	for i, layer := range d {
		shape[i] = len(layer)
	}
	return shape
}

// ShapeMatches reports whether the delta has exactly the given layer sizes.
func (d WeightDelta) ShapeMatches(shape []int) bool {
	if len(d) != len(shape) {
		return false
	}
	for i, layer := range d {
		if len(layer) != shape[i] {
			return false
		}
	}
	return true
}

// ParseWeightDelta decodes a nested numeric array from raw JSON. It rejects
// anything that is not a non-empty array of numeric arrays.
func ParseWeightDelta(raw json.RawMessage) (WeightDelta, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty weight delta")
	}
	var delta WeightDelta
	if err := json.Unmarshal(raw, &delta); err != nil {
		return nil, fmt.Errorf("weight delta is not a nested numeric array: %w", err)
	}
	if len(delta) == 0 {
		return nil, fmt.Errorf("weight delta has no layers")
	}
	for i, layer := range delta {
		if len(layer) == 0 {
			return nil, fmt.Errorf("weight delta layer %d is empty", i)
		}
	}
	return delta, nil
}

// Task is a training assignment handed to a client.
type Task struct {
	RoundID      int    `json:"round_id"`
	ModelVersion string `json:"model_version"`
	Task         string `json:"task"`
}

// RoundStatus is the read-only view of a round returned by get_round_status.
type RoundStatus struct {
	RoundID      int        `json:"round_id"`
	State        RoundState `json:"state"`
	ModelVersion string     `json:"model_version"`
	Assigned     []string   `json:"assigned"`
	Received     []string   `json:"received"`
	TotalClients int        `json:"total_clients"`
	TotalUpdates int        `json:"total_updates"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CloseReason  string     `json:"close_reason,omitempty"`
}

// AggregateResult is the outcome of a successful round aggregation.
type AggregateResult struct {
	RoundID         int    `json:"round_id"`
	NewModelVersion string `json:"new_model_version"`
	NumUpdates      int    `json:"num_updates"`
	Status          string `json:"status"`
}

// AsyncRoundStats is the bookkeeping view exposed by get_async_stats.
type AsyncRoundStats struct {
	RoundID          int      `json:"round_id"`
	AssignedClients  int      `json:"assigned_clients"`
	UpdatesReceived  int      `json:"updates_received"`
	MinimumRequired  int      `json:"minimum_required"`
	IsReady          bool     `json:"is_ready"`
	Stragglers       []string `json:"stragglers"`
	ElapsedSeconds   float64  `json:"elapsed_seconds"`
	TimeoutSeconds   float64  `json:"timeout_seconds"`
	TimeoutRemaining float64  `json:"timeout_remaining"`
}

// UpdateRequest is the submit_update wire payload. Everything except
// client_id, round_id, token and weight_delta is advisory.
type UpdateRequest struct {
	ClientID       string          `json:"client_id"`
	RoundID        int             `json:"round_id"`
	ModelVersion   string          `json:"model_version,omitempty"`
	WeightDelta    json.RawMessage `json:"weight_delta"`
	TrainingConfig json.RawMessage `json:"training_config,omitempty"`
	FinalLoss      *float64        `json:"final_loss,omitempty"`
	Token          string          `json:"token,omitempty"`
}

// RegisterRequest is the register_client wire payload.
type RegisterRequest struct {
	ClientName string `json:"client_name"`
}
