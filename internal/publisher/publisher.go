package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BarkinBalci/log-aggregator/internal/domain"
	"github.com/BarkinBalci/log-aggregator/internal/dto"
	"github.com/BarkinBalci/log-aggregator/internal/queue"
)

// Publisher delivers a batch of events to the aggregator
type Publisher interface {
	Publish(ctx context.Context, events []domain.RawEvent) (Result, error)
}

// Result counts per-event outcomes of one delivery
type Result struct {
	Accepted int
	Rejected int
	Invalid  int
}

func (r *Result) add(other Result) {
	r.Accepted += other.Accepted
	r.Rejected += other.Rejected
	r.Invalid += other.Invalid
}

// HTTPPublisher posts batches to the aggregator's /publish endpoint
type HTTPPublisher struct {
	client *http.Client
	url    string
}

func NewHTTPPublisher(baseURL string, timeout time.Duration) *HTTPPublisher {
	return &HTTPPublisher{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(baseURL, "/") + "/publish",
	}
}

func (p *HTTPPublisher) Publish(ctx context.Context, events []domain.RawEvent) (Result, error) {
	body, err := json.Marshal(events)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("failed to publish events: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read response: %w", err)
	}

	var publishResp dto.PublishResponse
	if err := json.Unmarshal(respBody, &publishResp); err != nil || publishResp.Status == "" {
		return Result{}, fmt.Errorf("unexpected response %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	return Result{
		Accepted: publishResp.Accepted,
		Rejected: publishResp.Rejected,
		Invalid:  publishResp.Invalid,
	}, nil
}

// QueuePublisher sends events through an external broker. Accepted counts messages
// the broker took; the aggregator decides their outcome later.
type QueuePublisher struct {
	queue queue.QueuePublisher
}

func NewQueuePublisher(q queue.QueuePublisher) *QueuePublisher {
	return &QueuePublisher{queue: q}
}

func (p *QueuePublisher) Publish(ctx context.Context, events []domain.RawEvent) (Result, error) {
	failed, err := p.queue.PublishEvents(ctx, events)
	if err != nil {
		return Result{}, err
	}
	return Result{
		Accepted: len(events) - len(failed),
		Rejected: len(failed),
	}, nil
}
