package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/duetdate/planner-server-go/internal/model"
)

// Request carries everything the recommendation engine needs to score a
// session: both participants' preference records and the search location.
type Request struct {
	SessionID          string             `json:"sessionId"`
	PartnerID          string             `json:"partnerId"`
	CallerPreferences  *model.Preferences `json:"callerPreferences"`
	PartnerPreferences *model.Preferences `json:"partnerPreferences"`
	Location           model.Location     `json:"location"`
}

// Client posts analysis requests to the external compatibility engine.
type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *Client) Analyze(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("analysis engine not configured")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal analysis request: %w", err)
	}

	start := time.Now()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/compatibility", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	log.Info().
		Str("sessionId", req.SessionID).
		Msg("requesting compatibility analysis")

	resp, err := c.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Str("sessionId", req.SessionID).
			Dur("elapsed", elapsed).
			Msg("analysis request error")
		return nil, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		log.Error().
			Str("sessionId", req.SessionID).
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("analysis request rejected")
		return nil, fmt.Errorf("analysis failed with status %d", resp.StatusCode)
	}

	var result model.AnalysisResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode analysis response: %w", err)
	}

	log.Info().
		Str("sessionId", req.SessionID).
		Float64("score", result.CompatibilityScore).
		Int("venueCount", len(result.Venues)).
		Dur("elapsed", elapsed).
		Msg("analysis complete")

	return &result, nil
}
