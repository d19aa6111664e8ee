// Package remote calls an external OCR service over HTTP.
package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
)

const recognizeOperation = "ocr.recognize"

type Client struct {
	baseURL    string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// WithResilience routes every call through executor.
func (c *Client) WithResilience(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

type recognizeResponse struct {
	Text   string              `json:"text"`
	Fields domain.ParsedFields `json:"fields"`
}

func (c *Client) Recognize(ctx context.Context, doc *domain.Document, content io.Reader) (domain.OCRResult, error) {
	// Buffered once so retries can resend the same payload.
	raw, err := io.ReadAll(content)
	if err != nil {
		return domain.OCRResult{}, fmt.Errorf("read document content: %w", err)
	}

	resp, err := resilience.Do(ctx, c.executor, recognizeOperation, func(ctx context.Context) (recognizeResponse, error) {
		var out recognizeResponse
		err := c.postMultipart(ctx, "/v1/ocr", doc, raw, &out)
		return out, err
	}, classifyOCRError)
	if err != nil {
		return domain.OCRResult{}, wrapTemporaryIfNeeded(recognizeOperation, err)
	}

	fields := resp.Fields
	if fields == nil {
		fields = domain.ParsedFields{}
	}
	for k, v := range fields {
		if s, ok := v.(string); ok {
			fields[k] = domain.NormalizeFieldValue(s)
		}
	}
	return domain.OCRResult{Text: strings.TrimSpace(resp.Text), Fields: fields}, nil
}
