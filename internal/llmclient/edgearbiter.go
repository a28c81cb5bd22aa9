package llmclient

import (
	"context"
	"fmt"
)

const edgeArbiterSystemPrompt = `You are refining the start and end edges of a highlight clip from a live
stream. You are given a numeric summary of the candidate window (its snapped
edges, duration, allowed min/max length, frame rate, and the nearest
topic/scene boundary candidate with signed delta for each edge), a transcript
excerpt for the window, and a small set of representative frames.

Respond with nothing but a single JSON object describing exactly one action:
  {"action": "keep", "reason": string, "confidence": number}
  {"action": "use_topic", "reason": string, "confidence": number}
  {"action": "use_scene", "reason": string, "confidence": number}
  {"action": "micro_adjust", "start_delta": number, "end_delta": number, "reason": string, "confidence": number}
confidence is between 0 and 1. Do not include any text before or after the JSON object.`

// PlanAction names one of the four allowed edge-refinement actions.
type PlanAction string

const (
	PlanKeep        PlanAction = "keep"
	PlanUseTopic    PlanAction = "use_topic"
	PlanUseScene    PlanAction = "use_scene"
	PlanMicroAdjust PlanAction = "micro_adjust"
)

// Plan is the edge arbiter's decision: exactly one action, plus the
// micro_adjust deltas when applicable.
type Plan struct {
	Action     PlanAction `json:"action"`
	StartDelta float64    `json:"start_delta"`
	EndDelta   float64    `json:"end_delta"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// EdgeArbiter is the §6 contract for agentic edge refinement.
type EdgeArbiter struct {
	client *Client
}

// NewEdgeArbiter constructs an EdgeArbiter over client.
func NewEdgeArbiter(client *Client) *EdgeArbiter {
	return &EdgeArbiter{client: client}
}

// Arbitrate sends the assembled context block and representative frames and
// parses the model's single-action plan. On any error or malformed output,
// the caller falls back to PlanKeep; this function itself returns the error
// so the caller can log it before doing so.
func (a *EdgeArbiter) Arbitrate(ctx context.Context, contextBlock string, jpegs [][]byte) (Plan, error) {
	text, err := a.client.textImageMessage(ctx, edgeArbiterSystemPrompt, contextBlock, jpegs, 512)
	if err != nil {
		return Plan{}, err
	}

	var plan Plan
	if err := decodeJSON(text, &plan); err != nil {
		return Plan{}, fmt.Errorf("parse edge arbiter response: %w", err)
	}
	switch plan.Action {
	case PlanKeep, PlanUseTopic, PlanUseScene, PlanMicroAdjust:
	default:
		return Plan{}, fmt.Errorf("unrecognized plan action %q", plan.Action)
	}
	return plan, nil
}
