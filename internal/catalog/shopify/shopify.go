package shopify

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jo-hoe/shopglot/internal/catalog"
	"github.com/jo-hoe/shopglot/internal/common"
	appcfg "github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/remote"
)

var _ catalog.Client = (*Client)(nil)

const (
	defaultTimeout    = 60 * time.Second
	errorSnippetLimit = 400
	uploadFilename    = "translated.png"
)

// Client talks to the Shopify Admin REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// New creates a catalog client for the configured shop.
func New(cfg appcfg.CatalogSettings) (*Client, error) {
	if strings.TrimSpace(cfg.Shop) == "" {
		return nil, fmt.Errorf("catalog shop must not be empty")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, fmt.Errorf("catalog access token must not be empty")
	}
	version := strings.TrimSpace(cfg.APIVersion)
	if version == "" {
		version = common.DefaultCatalogVersion
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = fmt.Sprintf("https://%s/admin/api/%s", cfg.Shop, version)
	}
	return &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    strings.TrimRight(base, "/"),
		token:      cfg.AccessToken,
	}, nil
}

// WithHTTPClient allows tests to inject a custom HTTP client (e.g., pointing to httptest.Server).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) ListProducts(ctx context.Context, limit int) ([]catalog.Product, error) {
	if limit <= 0 {
		limit = 250
	}
	url := fmt.Sprintf("%s/products.json?limit=%d", c.baseURL, limit)
	var out struct {
		Products []struct {
			ID       int64  `json:"id"`
			Title    string `json:"title"`
			Handle   string `json:"handle"`
			BodyHTML string `json:"body_html"`
			Images   []struct {
				ID         int64   `json:"id"`
				Src        string  `json:"src"`
				VariantIDs []int64 `json:"variant_ids"`
			} `json:"images"`
		} `json:"products"`
	}
	if err := c.do(ctx, http.MethodGet, "list products", url, nil, &out); err != nil {
		return nil, err
	}
	products := make([]catalog.Product, 0, len(out.Products))
	for _, p := range out.Products {
		prod := catalog.Product{
			ID:       p.ID,
			Title:    p.Title,
			Handle:   p.Handle,
			BodyHTML: p.BodyHTML,
		}
		for _, img := range p.Images {
			prod.Images = append(prod.Images, catalog.Image{ID: img.ID, Src: img.Src, VariantIDs: img.VariantIDs})
		}
		products = append(products, prod)
	}
	return products, nil
}

func (c *Client) UploadImage(ctx context.Context, productID int64, data []byte, forcePrimary bool) (catalog.Image, error) {
	payload := map[string]any{
		"attachment": base64.StdEncoding.EncodeToString(data),
		"filename":   uploadFilename,
	}
	if forcePrimary {
		payload["position"] = 1
	}
	url := fmt.Sprintf("%s/products/%d/images.json", c.baseURL, productID)
	var out struct {
		Image struct {
			ID  int64  `json:"id"`
			Src string `json:"src"`
		} `json:"image"`
	}
	if err := c.do(ctx, http.MethodPost, "upload image", url, map[string]any{"image": payload}, &out); err != nil {
		return catalog.Image{}, err
	}
	return catalog.Image{ID: out.Image.ID, Src: out.Image.Src}, nil
}

func (c *Client) ReassociateVariant(ctx context.Context, variantID, imageID int64) error {
	url := fmt.Sprintf("%s/variants/%d.json", c.baseURL, variantID)
	body := map[string]any{
		"variant": map[string]any{"id": variantID, "image_id": imageID},
	}
	return c.do(ctx, http.MethodPut, "reassociate variant", url, body, nil)
}

func (c *Client) DeleteImage(ctx context.Context, productID, imageID int64) error {
	url := fmt.Sprintf("%s/products/%d/images/%d.json", c.baseURL, productID, imageID)
	return c.do(ctx, http.MethodDelete, "delete image", url, nil, nil)
}

func (c *Client) UpdateDescription(ctx context.Context, productID int64, bodyHTML string) error {
	url := fmt.Sprintf("%s/products/%d.json", c.baseURL, productID)
	body := map[string]any{
		"product": map[string]any{"id": productID, "body_html": bodyHTML},
	}
	return c.do(ctx, http.MethodPut, "update description", url, body, nil)
}

// do performs one authenticated API call. A failed exchange is wrapped as a
// transport error; a non-2xx answer is returned as a plain error carrying
// the API's message.
func (c *Client) do(ctx context.Context, method, op, url string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("%s: new request: %w", op, err)
	}
	req.Header.Set(common.HeaderCatalogToken, c.token)
	req.Header.Set("Content-Type", common.ContentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return remote.Transport(op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		msg := apiErrorMessage(respBytes)
		if msg != "" {
			return fmt.Errorf("%s: shopify status %d: %s", op, resp.StatusCode, msg)
		}
		return fmt.Errorf("%s: shopify status %d", op, resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(respBytes, out); err != nil {
			return fmt.Errorf("%s: parse response: %w", op, err)
		}
	}
	return nil
}

func apiErrorMessage(body []byte) string {
	var payload struct {
		Errors any `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Errors == nil {
		return ""
	}
	b, err := json.Marshal(payload.Errors)
	if err != nil {
		return ""
	}
	return truncate(string(b), errorSnippetLimit)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
