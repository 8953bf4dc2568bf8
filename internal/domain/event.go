package domain

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// RawEvent represents an unprocessed message from the update topic.
type RawEvent struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// UpdateRequest is the queue payload that triggers a re-trace-and-publish
// cycle for one reach.
type UpdateRequest struct {
	Attributes UpdateAttributes `json:"attributes"`
}

// UpdateAttributes carries the feature-service record identifying the reach.
type UpdateAttributes struct {
	ObjectID int    `json:"OBJECTID"`
	ReachID  string `json:"reach_id" validate:"required,numeric"`
}

var validate = validator.New()

// ParseUpdateRequest deserializes and validates a raw update message,
// failing fast when the reach id is missing or non-numeric.
func ParseUpdateRequest(raw RawEvent) (UpdateRequest, error) {
	var req UpdateRequest
	if err := json.Unmarshal(raw.Value, &req); err != nil {
		return UpdateRequest{}, fmt.Errorf("parse update request: %w", err)
	}
	if err := validate.Struct(req.Attributes); err != nil {
		return UpdateRequest{}, fmt.Errorf("invalid update request: %w", err)
	}
	return req, nil
}

// SnapSummary reports one access point's snap result in an update event.
type SnapSummary struct {
	Lon        float64 `json:"lon"`
	Lat        float64 `json:"lat"`
	FlowlineID int64   `json:"flowline_id"`
	Measure    float64 `json:"measure"`
}

// UpdateResult is the event emitted to the sink topic after a reach update
// cycle completes.
type UpdateResult struct {
	ReachID     string       `json:"reach_id"`
	Traced      bool         `json:"traced"`
	Putin       *SnapSummary `json:"putin,omitempty"`
	Takeout     *SnapSummary `json:"takeout,omitempty"`
	EncodedLine string       `json:"encoded_line,omitempty"`
	ProcessedAt time.Time    `json:"processed_at"`
}

// NewUpdateResult summarizes a processed reach for the sink topic.
func NewUpdateResult(r *Reach) UpdateResult {
	result := UpdateResult{
		ReachID:     r.ID,
		Traced:      r.Traced(),
		EncodedLine: EncodePolyline(r.Geometry),
		ProcessedAt: clock.Now().UTC(),
	}
	if putin, ok := r.Putin(); ok && putin.Snapped {
		result.Putin = snapSummary(putin)
	}
	if takeout, ok := r.Takeout(); ok && takeout.Snapped {
		result.Takeout = snapSummary(takeout)
	}
	return result
}

func snapSummary(pt *AccessPoint) *SnapSummary {
	return &SnapSummary{
		Lon:        pt.Geometry[0],
		Lat:        pt.Geometry[1],
		FlowlineID: pt.FlowlineID,
		Measure:    pt.Measure,
	}
}
