// Package pipeline adapts the asynchronous Pub/Sub ingestion path to the
// orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

// SendRequestTransformer decodes a message payload into a SendRequest.
// Undecodable payloads are skipped so the StreamingService can Nack them
// towards the dead-letter topic.
func SendRequestTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*dispatch.SendRequest, bool, error) {
	var req dispatch.SendRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal send request from message %s: %w", msg.ID, err)
	}
	return &req, false, nil
}
