package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://api.openai.com/v1"

// pagePrompt is the per-page conversion instruction sent alongside each
// page image.
const pagePrompt = `You are an expert at converting text content from scanned tabletop RPG adventure modules and other game books to clean Markdown format. Your task is to:

1. Accurately transcribe all text content from the image
2. Preserve the document structure using appropriate Markdown formatting
3. Use proper heading levels (# ## ###) for sections and subsections
4. Format tables, stat blocks, and game mechanics clearly
5. Maintain any special formatting for game rules, spells, or abilities
6. Include any important visual elements as descriptions in [brackets]
7. Preserve page layout and organization as much as possible
8. Rely on headings as separators rather than triple-dashes or other characters

Return ONLY the converted Markdown content with no additional commentary or explanation and without outer code fences.`

// Client talks to the OpenAI Responses API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// NewClient creates a vision-model client. The timeout bounds one HTTP
// round trip, not a whole job.
func NewClient(apiKey, baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// PageRequest is one page-conversion call to the remote model.
type PageRequest struct {
	Model    string
	Shape    RequestShape
	ImagePNG []byte
}

type contentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

type inputMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type responsesRequest struct {
	Model               string         `json:"model"`
	Input               []inputMessage `json:"input"`
	MaxOutputTokens     int            `json:"max_output_tokens,omitempty"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
}

type responsesResponse struct {
	OutputText string       `json:"output_text"`
	Output     []outputItem `json:"output"`
}

type outputItem struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type outputContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ConvertPage sends one page image to the model and returns the Markdown
// text. Failures are returned as *CallError classified by kind.
func (c *Client) ConvertPage(ctx context.Context, req PageRequest) (string, error) {
	imageURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(req.ImagePNG)

	body := responsesRequest{
		Model: req.Model,
		Input: []inputMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "input_text", Text: pagePrompt},
				{Type: "input_image", ImageURL: imageURL, Detail: string(req.Shape.Detail)},
			},
		}},
		MaxOutputTokens:     req.Shape.MaxOutputTokens,
		MaxCompletionTokens: req.Shape.MaxCompletionTokens,
		Temperature:         req.Shape.Temperature,
	}

	raw, err := c.post(ctx, "/responses", body)
	if err != nil {
		return "", err
	}

	var resp responsesResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", &CallError{Kind: KindUnknown, Message: "failed to decode response", Err: err}
	}
	return parseResponseText(&resp), nil
}

// parseResponseText normalizes getting text out of a Responses API payload.
func parseResponseText(resp *responsesResponse) string {
	if resp.OutputText != "" {
		return resp.OutputText
	}

	var parts []string
	for _, item := range resp.Output {
		if len(item.Content) == 0 {
			continue
		}
		// Content may be a plain string or a list of typed parts.
		var asString string
		if err := json.Unmarshal(item.Content, &asString); err == nil {
			parts = append(parts, asString)
			continue
		}
		var asParts []outputContent
		if err := json.Unmarshal(item.Content, &asParts); err == nil {
			for _, p := range asParts {
				if p.Text != "" {
					parts = append(parts, p.Text)
				}
			}
		}
	}
	return strings.Join(parts, "\n")
}

type modelList struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// VisionModels lists available models and keeps the vision-capable ones,
// sorted by id.
func (c *Client) VisionModels(ctx context.Context) ([]string, error) {
	raw, err := c.get(ctx, "/models")
	if err != nil {
		return nil, err
	}

	var list modelList
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, &CallError{Kind: KindUnknown, Message: "failed to decode model list", Err: err}
	}

	var ids []string
	for _, m := range list.Data {
		if strings.HasPrefix(m.ID, "gpt-4") || strings.HasPrefix(m.ID, "o") {
			ids = append(ids, m.ID)
		}
	}
	sort.Strings(ids)
	c.log.Debug().Int("model_count", len(ids)).Msg("fetched vision models")
	return ids, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &CallError{Kind: KindUnknown, Message: "failed to marshal request", Err: err}
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body))
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &CallError{Kind: KindUnknown, Message: "failed to build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &CallError{Kind: KindTimeout, Message: "request cancelled or timed out", Err: err}
		}
		return nil, &CallError{Kind: KindTransient, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &CallError{Kind: KindTransient, Message: "failed to read response body", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, string(raw))
	}
	return raw, nil
}

// Prompt returns the per-page instruction text.
func Prompt() string { return pagePrompt }
