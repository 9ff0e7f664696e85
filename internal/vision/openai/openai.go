package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jo-hoe/shopglot/internal/common"
	appcfg "github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/remote"
	"github.com/jo-hoe/shopglot/internal/vision"
)

var (
	_ vision.Client          = (*Client)(nil)
	_ vision.Generator       = (*Client)(nil)
	_ vision.BalanceProvider = (*Client)(nil)
)

const (
	// Headers
	headerContentType   = "Content-Type"
	headerAuthorization = "Authorization"

	// Auth
	authSchemeBearer = "Bearer"

	// Endpoints
	endpointChatCompletions  = "v1/chat/completions"
	endpointImageEdits       = "v1/images/edits"
	endpointImageGenerations = "v1/images/generations"
	endpointCreditGrants     = "dashboard/billing/credit_grants"

	// Timeouts and limits
	detectTimeout     = 30 * time.Second
	translateTimeout  = 2 * time.Minute
	errorSnippetLimit = 400

	detectMaxTokens = 5
	detectPrompt    = "Does this image contain visible words, text, labels or titles? Answer only YES or NO."

	// Data URL constants
	dataURLPrefix    = "data:"
	dataURLBase64Sep = ";base64,"
)

const translatePromptTemplate = "Translate all visible text in this image to %s. " +
	"Preserve every visual detail exactly: the product, background, colors, lighting, shadows, " +
	"textures, and composition must remain photorealistic and identical to the original. " +
	"The output must look like a real photograph, not a drawing, illustration, painting, or 3D render. " +
	"Only change the language of the text labels."

// Client implements vision.Client against the OpenAI API: a cheap chat
// model answers the text-detection question and an image edit model renders
// the translation.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	cfg        appcfg.OpenAISettings
}

// New creates a new OpenAI vision client.
func New(cfg appcfg.OpenAISettings) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: translateTimeout},
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		cfg:        cfg,
	}
}

// WithHTTPClient allows tests to inject a custom HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// DetectText asks the detect model the YES/NO text question with a
// low-detail image attachment.
func (c *Client) DetectText(ctx context.Context, image []byte, mime string) (bool, error) {
	if len(image) == 0 {
		return false, fmt.Errorf("image is empty")
	}
	detail := "low"
	reqBody := chatCompletionRequest{
		Model:     c.cfg.DetectModel,
		MaxTokens: detectMaxTokens,
		Messages: []chatMessage{{
			Role: "user",
			Content: []messagePart{
				{Type: "image_url", ImageURL: &imageURL{URL: buildDataURL(mime, image), Detail: &detail}},
				{Type: "text", Text: strPtr(detectPrompt)},
			},
		}},
	}

	u, err := url.JoinPath(c.baseURL, endpointChatCompletions)
	if err != nil {
		return false, fmt.Errorf("join url: %w", err)
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return false, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, detectTimeout)
	defer cancel()

	respBytes, err := c.post(ctx, "detect text", u, common.ContentTypeJSON, bytes.NewReader(bodyBytes))
	if err != nil {
		return false, err
	}

	var comp chatCompletionResponse
	if err := json.Unmarshal(respBytes, &comp); err != nil {
		return false, fmt.Errorf("parse detect response: %w", err)
	}
	if len(comp.Choices) == 0 {
		return false, fmt.Errorf("empty detect completion")
	}
	answer := strings.ToUpper(strings.TrimSpace(comp.Choices[0].Message.Content))
	return strings.HasPrefix(answer, "YES"), nil
}

// TranslateImage submits the image to the edit endpoint with the fixed
// translation instruction and returns the re-rendered image bytes.
func (c *Client) TranslateImage(ctx context.Context, image []byte, mime string) ([]byte, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("image is empty")
	}

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	if err := c.writeEditForm(form, image, mime); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, fmt.Errorf("close form: %w", err)
	}

	u, err := url.JoinPath(c.baseURL, endpointImageEdits)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}

	respBytes, err := c.post(ctx, "translate image", u, form.FormDataContentType(), &buf)
	if err != nil {
		return nil, err
	}

	var out imageEditResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("parse translate response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("translation returned no image")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode translated image: %w", err)
	}
	return data, nil
}

// GenerateImage renders a brand-new image from a text prompt on the
// generation endpoint and returns its bytes.
func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("prompt is empty")
	}
	reqBody := map[string]any{
		"model":           c.cfg.GenerateModel,
		"prompt":          prompt,
		"n":               1,
		"size":            c.cfg.ImageSize,
		"response_format": "b64_json",
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	u, err := url.JoinPath(c.baseURL, endpointImageGenerations)
	if err != nil {
		return nil, fmt.Errorf("join url: %w", err)
	}

	respBytes, err := c.post(ctx, "generate image", u, common.ContentTypeJSON, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, err
	}

	var out imageEditResponse
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return nil, fmt.Errorf("parse generate response: %w", err)
	}
	if len(out.Data) == 0 || out.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("generation returned no image")
	}
	data, err := base64.StdEncoding.DecodeString(out.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode generated image: %w", err)
	}
	return data, nil
}

// Balance reads the prepaid credit grants of the account.
func (c *Client) Balance(ctx context.Context) (vision.Balance, error) {
	u, err := url.JoinPath(c.baseURL, endpointCreditGrants)
	if err != nil {
		return vision.Balance{}, fmt.Errorf("join url: %w", err)
	}
	respBytes, err := c.get(ctx, "credit balance", u)
	if err != nil {
		return vision.Balance{}, err
	}
	var out struct {
		TotalGranted   float64 `json:"total_granted"`
		TotalUsed      float64 `json:"total_used"`
		TotalAvailable float64 `json:"total_available"`
	}
	if err := json.Unmarshal(respBytes, &out); err != nil {
		return vision.Balance{}, fmt.Errorf("parse balance response: %w", err)
	}
	return vision.Balance{
		TotalGranted:   out.TotalGranted,
		TotalUsed:      out.TotalUsed,
		TotalAvailable: out.TotalAvailable,
	}, nil
}

func (c *Client) writeEditForm(form *multipart.Writer, image []byte, mime string) error {
	fields := map[string]string{
		"model":   c.cfg.ImageModel,
		"prompt":  fmt.Sprintf(translatePromptTemplate, c.cfg.TargetLanguage),
		"n":       "1",
		"size":    c.cfg.ImageSize,
		"quality": c.cfg.ImageQuality,
	}
	for k, v := range fields {
		if err := form.WriteField(k, v); err != nil {
			return fmt.Errorf("write form field %s: %w", k, err)
		}
	}
	fw, err := form.CreateFormFile("image", filenameForMime(mime))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(image); err != nil {
		return fmt.Errorf("write form image: %w", err)
	}
	return nil
}

// post performs one authenticated call. A failed exchange is wrapped as a
// transport error; a non-2xx answer is a well-formed rejection.
func (c *Client) post(ctx context.Context, op, url, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set(headerContentType, contentType)
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, remote.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s: openai status %d: %s", op, resp.StatusCode, truncate(apiErrorMessage(respBytes), errorSnippetLimit))
	}
	return respBytes, nil
}

// get mirrors post for read-only endpoints.
func (c *Client) get(ctx context.Context, op, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: new request: %w", op, err)
	}
	if strings.TrimSpace(c.apiKey) != "" {
		req.Header.Set(headerAuthorization, authSchemeBearer+" "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, remote.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("%s: openai status %d: %s", op, resp.StatusCode, truncate(apiErrorMessage(respBytes), errorSnippetLimit))
	}
	return respBytes, nil
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	return string(body)
}

func buildDataURL(mime string, data []byte) string {
	mt := strings.TrimSpace(mime)
	if mt == "" {
		mt = common.MimeImageJPEG
	}
	return dataURLPrefix + mt + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}

func filenameForMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case common.MimeImagePNG:
		return "product.png"
	case common.MimeImageWebP:
		return "product.webp"
	default:
		return "product.jpg"
	}
}

func strPtr(s string) *string { return &s }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenAI-compatible Chat Completions request/response types

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"` // string or []messagePart
}

type messagePart struct {
	Type     string    `json:"type"`                // "text" | "image_url"
	Text     *string   `json:"text,omitempty"`      // when Type == "text"
	ImageURL *imageURL `json:"image_url,omitempty"` // when Type == "image_url"
}

type imageURL struct {
	URL    string  `json:"url"`
	Detail *string `json:"detail,omitempty"`
}

type chatCompletionResponse struct {
	Choices []chatCompletionChoice `json:"choices"`
}

type chatCompletionChoice struct {
	Message responseMsg `json:"message"`
}

type responseMsg struct {
	Content string `json:"content"`
}

type imageEditResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}
