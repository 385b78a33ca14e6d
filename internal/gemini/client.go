package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"widgera-backend/pkg/api"

	"github.com/go-resty/resty/v2"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com"

// ErrModelService indicates the external model call failed (transport error,
// non-success status, or a response that could not be navigated to a text
// part). It is terminal: the call is never retried.
var ErrModelService = errors.New("model service error")

// Generator produces a structured output for a prompt constrained by a field
// schema. Image bytes are optional.
type Generator interface {
	Generate(ctx context.Context, prompt string, fields []api.FieldDefinition, image []byte) (*StructuredOutput, error)
}

type Client struct {
	client *resty.Client
	model  string
	apiKey string
}

var _ Generator = (*Client)(nil)

func NewClient(baseURL, model, apiKey string) *Client {
	return &Client{
		client: resty.New().SetBaseURL(baseURL),
		model:  model,
		apiKey: apiKey,
	}
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type contentPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type requestContent struct {
	Parts []contentPart `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateContentRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateContentResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (c *Client) Generate(ctx context.Context, prompt string, fields []api.FieldDefinition, image []byte) (*StructuredOutput, error) {
	slog.Info("generating structured output", "fields", len(fields), "has_image", len(image) > 0)

	body := buildRequest(prompt, fields, image)

	endpoint := fmt.Sprintf("/v1beta/models/%s:generateContent", c.model)
	res, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetQueryParam("key", c.apiKey).
		SetBody(body).
		Post(endpoint)

	if err != nil {
		slog.Error("error calling model api", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModelService, err)
	}

	if !res.IsSuccess() {
		slog.Error("model api returned error", "status_code", res.StatusCode(), "body", res.String())
		return nil, fmt.Errorf("%w: unexpected status %d", ErrModelService, res.StatusCode())
	}

	var parsed generateContentResponse
	if err := json.Unmarshal(res.Body(), &parsed); err != nil {
		slog.Error("error parsing model api response", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrModelService, err)
	}

	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: response contains no text part", ErrModelService)
	}

	output, err := ExtractOutput(parsed.Candidates[0].Content.Parts[0].Text, fields)
	if err != nil {
		return nil, err
	}

	slog.Info("successfully parsed structured output", "keys", output.Len())
	return output, nil
}

func buildRequest(prompt string, fields []api.FieldDefinition, image []byte) generateContentRequest {
	var schema strings.Builder
	schema.WriteString("You must respond with a valid JSON object containing exactly these fields:\n")
	for _, field := range fields {
		kind := "a string"
		if field.Type == api.FieldTypeNumber {
			kind = "a number"
		}
		fmt.Fprintf(&schema, "- %q: %s\n", field.Name, kind)
	}
	schema.WriteString("\nRespond ONLY with the JSON object, no other text.")

	parts := []contentPart{{Text: prompt + "\n\n" + schema.String()}}
	if len(image) > 0 {
		parts = append(parts, contentPart{InlineData: &inlineData{
			MimeType: "image/jpeg",
			Data:     base64.StdEncoding.EncodeToString(image),
		}})
	}

	return generateContentRequest{
		Contents: []requestContent{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:     0.1,
			TopK:            1,
			TopP:            1,
			MaxOutputTokens: 2048,
		},
	}
}

// StripCodeFence removes a surrounding ``` or ```json fence if present. Text
// without a fence is returned unchanged (modulo whitespace trimming), so the
// operation is idempotent.
func StripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```json") {
		text = text[len("```json"):]
	}
	if strings.HasPrefix(text, "```") {
		text = text[len("```"):]
	}
	if strings.HasSuffix(text, "```") {
		text = text[:len(text)-len("```")]
	}
	return strings.TrimSpace(text)
}

// ExtractOutput parses the model's free-text answer as JSON and coerces it
// to the field schema. Keys follow field declaration order; extra keys in
// the raw response are ignored. Numbers that cannot be parsed default to 0,
// missing strings default to "". Coercion never fails a request on its own,
// only unparseable JSON does.
func ExtractOutput(text string, fields []api.FieldDefinition) (*StructuredOutput, error) {
	text = StripCodeFence(text)

	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		slog.Error("model response is not valid json", "error", err)
		return nil, fmt.Errorf("%w: could not parse model response: %v", ErrModelService, err)
	}

	output := NewStructuredOutput()
	for _, field := range fields {
		value := raw[field.Name]
		if field.Type == api.FieldTypeNumber {
			output.Set(field.Name, coerceNumber(value))
		} else {
			output.Set(field.Name, textForm(value))
		}
	}
	return output, nil
}

func coerceNumber(value any) float64 {
	if n, ok := value.(float64); ok {
		return n
	}
	n, err := strconv.ParseFloat(textForm(value), 64)
	if err != nil {
		return 0
	}
	return n
}

func textForm(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
