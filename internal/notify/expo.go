package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultExpoURL  = "https://exp.host/--/api/v2/push/send"
	expoBatchSize   = 100
	expoConcurrency = 4
)

// ExpoSender posts messages to the Expo push API in batches of at most 100 recipients.
type ExpoSender struct {
	BaseURL     string
	AccessToken string
	Client      *http.Client
}

type expoResponse struct {
	Data []struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	} `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *ExpoSender) Send(ctx context.Context, msg Message) error {
	if msg.Sound == "" {
		msg.Sound = "default"
	}
	if msg.Priority == "" {
		msg.Priority = "high"
	}

	batches := chunk(dedupe(msg.To), expoBatchSize)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(expoConcurrency)
	for _, batch := range batches {
		m := msg
		m.To = batch
		g.Go(func() error {
			return s.post(ctx, m)
		})
	}
	return g.Wait()
}

func (s *ExpoSender) post(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	url := s.BaseURL
	if url == "" {
		url = defaultExpoURL
	}
	client := s.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	if s.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.AccessToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("expo push http error: %s", resp.Status)
	}

	var out expoResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	return responseErr(out)
}

// responseErr reports request-level errors. Per-ticket errors (e.g. a stale device token)
// are not failures of the dispatch as a whole.
func responseErr(out expoResponse) error {
	if len(out.Errors) == 0 {
		return nil
	}
	return fmt.Errorf("expo push rejected: %s: %s", out.Errors[0].Code, out.Errors[0].Message)
}
