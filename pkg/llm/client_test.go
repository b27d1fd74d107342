package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"bare fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"whitespace", "  {\"a\":1}  ", `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.input))
		})
	}
}

func TestFakeConsumesResponsesInOrder(t *testing.T) {
	f := &Fake{Responses: []string{"first", "second"}}

	got, err := f.Complete(context.Background(), "p1", 0)
	require.NoError(t, err)
	assert.Equal(t, "first", got)

	got, err = f.Complete(context.Background(), "p2", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	// Exhausted list repeats the last response.
	got, err = f.Complete(context.Background(), "p3", 0)
	require.NoError(t, err)
	assert.Equal(t, "second", got)

	assert.Equal(t, []string{"p1", "p2", "p3"}, f.Prompts)
}

func TestFakeCompleteJSONDecodesFencedPayload(t *testing.T) {
	f := &Fake{Responses: []string{"```json\n{\"priority\":\"critical\"}\n```"}}

	var out struct {
		Priority string `json:"priority"`
	}
	require.NoError(t, f.CompleteJSON(context.Background(), "classify", &out))
	assert.Equal(t, "critical", out.Priority)
}

func TestFakeCompleteJSONRejectsMalformedPayload(t *testing.T) {
	f := &Fake{Responses: []string{"not json at all"}}

	var out map[string]any
	err := f.CompleteJSON(context.Background(), "classify", &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed JSON")
}
