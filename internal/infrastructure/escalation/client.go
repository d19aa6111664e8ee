// Package escalation submits documents to the external manual review
// service and follows up on the resulting tickets.
package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kirillkom/idverify/internal/core/domain"
	"github.com/kirillkom/idverify/internal/infrastructure/resilience"
)

const (
	DefaultTimeout = 30 * time.Second

	submitOperation = "escalation.submit"
	statusOperation = "escalation.status"
	cancelOperation = "escalation.cancel"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	executor   *resilience.Executor
	now        func() time.Time
}

func New(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

// WithResilience guards calls with executor. The executor should come from
// resilience.BreakerOnly: the client never retries on its own.
func (c *Client) WithResilience(executor *resilience.Executor) *Client {
	c.executor = executor
	return c
}

type submitResponse struct {
	TaskID   string `json:"taskId"`
	TicketID string `json:"ticketId"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

func (c *Client) Submit(ctx context.Context, req domain.EscalationRequest) (domain.EscalationTicket, error) {
	if req.ParsedData == nil {
		req.ParsedData = domain.ParsedFields{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return domain.EscalationTicket{}, fmt.Errorf("marshal escalation request: %w", err)
	}

	ids := errorContext{documentID: req.DocumentID, correlationID: req.CorrelationID}
	resp, err := resilience.Do(ctx, c.executor, submitOperation, func(ctx context.Context) (submitResponse, error) {
		var out submitResponse
		err := c.do(ctx, http.MethodPost, "/internal/reviews", body, &out, "submit", ids)
		return out, err
	}, classifyEscalationError)
	if err != nil {
		return domain.EscalationTicket{}, c.asClientError(err, "submit", ids)
	}

	ticketID := strings.TrimSpace(resp.TaskID)
	if ticketID == "" {
		ticketID = strings.TrimSpace(resp.TicketID)
	}
	if ticketID == "" {
		ticketID = fmt.Sprintf("ESC-%d", c.now().UnixMilli())
	}
	return domain.EscalationTicket{
		TicketID: ticketID,
		Status:   resp.Status,
		Message:  resp.Message,
	}, nil
}

func (c *Client) GetStatus(ctx context.Context, ticketID string) (domain.TicketStatus, error) {
	ids := errorContext{ticketID: ticketID}
	path := "/internal/reviews/" + url.PathEscape(ticketID) + "/status"
	status, err := resilience.Do(ctx, c.executor, statusOperation, func(ctx context.Context) (domain.TicketStatus, error) {
		var out domain.TicketStatus
		err := c.do(ctx, http.MethodGet, path, nil, &out, "status", ids)
		return out, err
	}, classifyEscalationError)
	if err != nil {
		return domain.TicketStatus{}, c.asClientError(err, "status", ids)
	}
	return status, nil
}

func (c *Client) Cancel(ctx context.Context, ticketID, reason string) error {
	payload := map[string]string{}
	if strings.TrimSpace(reason) != "" {
		payload["reason"] = reason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal cancel request: %w", err)
	}

	ids := errorContext{ticketID: ticketID}
	path := "/internal/reviews/" + url.PathEscape(ticketID) + "/cancel"
	err = c.executeOrCall(ctx, cancelOperation, func(ctx context.Context) error {
		return c.do(ctx, http.MethodPost, path, body, nil, "cancel", ids)
	})
	if err != nil {
		return c.asClientError(err, "cancel", ids)
	}
	return nil
}

func (c *Client) executeOrCall(ctx context.Context, operation string, fn func(context.Context) error) error {
	if c.executor == nil {
		return fn(ctx)
	}
	return c.executor.Execute(ctx, operation, fn, classifyEscalationError)
}

type errorContext struct {
	documentID    string
	correlationID string
	ticketID      string
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any, operation string, ids errorContext) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.asClientError(err, operation, ids)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &ClientError{
			Kind:          KindRejected,
			Operation:     operation,
			StatusCode:    resp.StatusCode,
			Body:          strings.TrimSpace(string(raw)),
			DocumentID:    ids.documentID,
			CorrelationID: ids.correlationID,
			TicketID:      ids.ticketID,
		}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return c.asClientError(fmt.Errorf("decode %s response: %w", operation, err), operation, ids)
	}
	return nil
}

// asClientError keeps an existing ClientError and classifies anything else
// as a timeout or transport failure.
func (c *Client) asClientError(err error, operation string, ids errorContext) error {
	if _, ok := AsClientError(err); ok {
		return err
	}
	kind := KindTransport
	if isTimeout(err) {
		kind = KindTimeout
	}
	return &ClientError{
		Kind:          kind,
		Operation:     operation,
		DocumentID:    ids.documentID,
		CorrelationID: ids.correlationID,
		TicketID:      ids.ticketID,
		Err:           err,
	}
}
