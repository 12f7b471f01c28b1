package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"motochefe-engagement/internal/models"
)

const (
	batchPath     = "/api/v1/engagement/events/batch"
	beaconTimeout = 5 * time.Second
)

// HTTPTransport posts batches to the collector API.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client

	beacons sync.WaitGroup
}

func NewHTTPTransport(baseURL, token string, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  client,
	}
}

func (t *HTTPTransport) Send(ctx context.Context, events []models.EventInput) error {
	body, err := json.Marshal(models.BatchRequest{Events: events})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+batchPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("collector unreachable: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// Beacon fires one request on its own goroutine, detached from any caller
// context, and never reports the outcome.
func (t *HTTPTransport) Beacon(events []models.EventInput) {
	t.beacons.Add(1)
	go func() {
		defer t.beacons.Done()
		ctx, cancel := context.WithTimeout(context.Background(), beaconTimeout)
		defer cancel()
		if err := t.Send(ctx, events); err != nil {
			log.Printf("tracker: beacon of %d events lost: %v", len(events), err)
		}
	}()
}

// Wait lets a process linger up to timeout for outstanding beacons before it
// exits. It says nothing about whether they were delivered.
func (t *HTTPTransport) Wait(timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		t.beacons.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
