// Package analytics moves journey step views off the request path: a bus
// subscriber enqueues them and a worker records them in DynamoDB.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/appraisal-booking/internal/events"
)

// Queue carries step views from the publisher to the worker. A polled
// delivery stays hidden from other pollers until it is acked or its
// visibility lapses, after which it is delivered again.
type Queue interface {
	Enqueue(ctx context.Context, view events.StepViewedV1) error
	Poll(ctx context.Context, limit int, wait time.Duration) ([]Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

// Delivery is one polled step view. Err is set instead of View when the
// stored body could not be decoded; such deliveries should be acked and
// dropped.
type Delivery struct {
	View    events.StepViewedV1
	Receipt string
	Attempt int
	Err     error
}

const stepViewSchema = "journey.step_viewed.v1"

var (
	ErrUnknownSchema = errors.New("analytics: unknown step view schema")
	ErrQueueFull     = errors.New("analytics: queue full")
)

type stepViewBody struct {
	Schema string               `json:"schema"`
	View   events.StepViewedV1 `json:"view"`
}

// encodeStepView stamps an event id on views that lack one so redeliveries
// can be recognised downstream.
func encodeStepView(view events.StepViewedV1) (string, events.StepViewedV1, error) {
	if view.EventID == "" {
		view.EventID = uuid.NewString()
	}
	if view.JourneyID == "" {
		return "", view, fmt.Errorf("analytics: step view %s has no journey id", view.EventID)
	}
	raw, err := json.Marshal(stepViewBody{Schema: stepViewSchema, View: view})
	if err != nil {
		return "", view, fmt.Errorf("analytics: encode step view: %w", err)
	}
	return string(raw), view, nil
}

func decodeStepView(body string) (events.StepViewedV1, error) {
	var b stepViewBody
	if err := json.Unmarshal([]byte(body), &b); err != nil {
		return events.StepViewedV1{}, fmt.Errorf("analytics: decode step view: %w", err)
	}
	if b.Schema != stepViewSchema {
		return events.StepViewedV1{}, fmt.Errorf("%w: %q", ErrUnknownSchema, b.Schema)
	}
	return b.View, nil
}
