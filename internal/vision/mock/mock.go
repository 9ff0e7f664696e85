package mock

import (
	"context"
	"time"

	appcfg "github.com/jo-hoe/shopglot/internal/config"
	"github.com/jo-hoe/shopglot/internal/vision"
)

var (
	_ vision.Client    = (*Client)(nil)
	_ vision.Generator = (*Client)(nil)
)

// Client is a vision client for tests and offline runs: detection answers a
// fixed value and translation echoes the input image back unchanged.
type Client struct {
	delay   time.Duration
	hasText bool
}

func New(cfg appcfg.MockSettings) *Client {
	return &Client{delay: cfg.Delay, hasText: cfg.HasText}
}

func (c *Client) DetectText(ctx context.Context, image []byte, mime string) (bool, error) {
	if err := c.wait(ctx); err != nil {
		return false, err
	}
	return c.hasText, nil
}

func (c *Client) TranslateImage(ctx context.Context, image []byte, mime string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	out := make([]byte, len(image))
	copy(out, image)
	return out, nil
}

func (c *Client) GenerateImage(ctx context.Context, prompt string) ([]byte, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	return []byte("generated:" + prompt), nil
}

func (c *Client) wait(ctx context.Context) error {
	if c.delay <= 0 {
		return nil
	}
	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
