package pipeline_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-service/internal/pipeline"
	"github.com/tinywideclouds/go-push-service/pkg/dispatch"
)

func TestSendRequestTransformer(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
	}{
		{
			name:    "Happy Path - Explicit Tokens",
			payload: `{"title":"T","body":"B","platform":"android","tokens":["a"],"data":{"n":1}}`,
		},
		{
			name:    "Happy Path - User Targeted",
			payload: `{"title":"T","body":"B","platform":"all","userIds":["u1"]}`,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal send request from message msg-1",
		},
		{
			name:                  "Failure - Nested Data",
			payload:               `{"title":"T","body":"B","platform":"web","tokens":["a"],"data":{"x":[1]}}`,
			expectError:           true,
			expectedErrorContains: "failed to unmarshal send request",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: "msg-1", Payload: []byte(tc.payload)},
			}

			req, skip, err := pipeline.SendRequestTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
				return
			}
			require.NoError(t, err)
			assert.False(t, skip)
			assert.Equal(t, "T", req.Title)
			assert.True(t, req.Platform == dispatch.PlatformAndroid || req.Platform == dispatch.PlatformAll)
		})
	}
}
