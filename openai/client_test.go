package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmacy/modul8r/logging"
	"github.com/mmacy/modul8r/models"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("sk-test", srv.URL, 5*time.Second, logging.Nop())
}

func TestConvertPageStandardRequestShape(t *testing.T) {
	var got responsesRequest
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/responses", r.URL.Path)
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(map[string]any{"output_text": "# Page One"})
	})

	shape := Adapt("gpt-4o", models.DetailHigh, 4096, 0.1)
	text, err := client.ConvertPage(context.Background(), PageRequest{
		Model:    "gpt-4o",
		Shape:    shape,
		ImagePNG: []byte{0x89, 0x50, 0x4e, 0x47},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Page One", text)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 4096, got.MaxOutputTokens)
	assert.Zero(t, got.MaxCompletionTokens)
	require.NotNil(t, got.Temperature)
	assert.Equal(t, 0.1, *got.Temperature)

	require.Len(t, got.Input, 1)
	require.Len(t, got.Input[0].Content, 2)
	assert.Equal(t, "input_text", got.Input[0].Content[0].Type)
	assert.Equal(t, "input_image", got.Input[0].Content[1].Type)
	assert.Contains(t, got.Input[0].Content[1].ImageURL, "data:image/png;base64,")
	assert.Equal(t, "high", got.Input[0].Content[1].Detail)
}

func TestConvertPageReasoningRequestShape(t *testing.T) {
	var raw map[string]any
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&raw))
		json.NewEncoder(w).Encode(map[string]any{"output_text": "ok"})
	})

	shape := Adapt("o3-mini", models.DetailLow, 4096, 0.1)
	_, err := client.ConvertPage(context.Background(), PageRequest{Model: "o3-mini", Shape: shape, ImagePNG: []byte{0x1}})
	require.NoError(t, err)

	// Reasoning models must not receive temperature or max_output_tokens.
	assert.NotContains(t, raw, "temperature")
	assert.NotContains(t, raw, "max_output_tokens")
	assert.Equal(t, float64(4096), raw["max_completion_tokens"])
}

func TestConvertPageClassifiesHTTPFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limited", 429, `{"error": "rate limit"}`, KindRateLimited},
		{"server error", 503, "unavailable", KindTransient},
		{"content policy", 400, `{"error": {"code": "content_policy_violation"}}`, KindContentRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := client.ConvertPage(context.Background(), PageRequest{Model: "gpt-4o", ImagePNG: []byte{0x1}})
			require.Error(t, err)
			assert.Equal(t, tt.want, Classify(err))
		})
	}
}

func TestParseResponseTextFallsBackToOutputItems(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"output": []map[string]any{
				{"type": "message", "content": []map[string]any{
					{"type": "output_text", "text": "from parts"},
				}},
			},
		})
	})

	text, err := client.ConvertPage(context.Background(), PageRequest{Model: "gpt-4o", ImagePNG: []byte{0x1}})
	require.NoError(t, err)
	assert.Equal(t, "from parts", text)
}

func TestVisionModelsFiltersAndSorts(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"id": "whisper-1"},
				{"id": "o3-mini"},
				{"id": "gpt-4o"},
				{"id": "text-embedding-3-small"},
				{"id": "gpt-4.1-nano"},
			},
		})
	})

	ids, err := client.VisionModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"gpt-4.1-nano", "gpt-4o", "o3-mini"}, ids)
}
