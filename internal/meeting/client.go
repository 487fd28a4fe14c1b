package meeting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mindbook/internal/config"

	"github.com/rs/zerolog"
)

// Client creates video rooms for confirmed sessions. Room creation is best
// effort: callers must treat a failure as a missing link, not a failed
// booking.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zerolog.Logger
}

func NewClient(cfg config.MeetingConfig, logger *zerolog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

type createRoomRequest struct {
	Name      string `json:"name"`
	StartsAt  string `json:"starts_at"`
	ExpiresIn int    `json:"expires_in_minutes"`
}

type createRoomResponse struct {
	URL string `json:"url"`
}

// CreateRoom provisions a room named after the session and returns its join
// URL.
func (c *Client) CreateRoom(ctx context.Context, sessionID string, scheduledTime time.Time) (string, error) {
	payload := createRoomRequest{
		Name:      fmt.Sprintf("session-%s", sessionID),
		StartsAt:  scheduledTime.UTC().Format(time.RFC3339),
		ExpiresIn: 180,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create room request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("meeting provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read meeting provider response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		c.logger.Warn().Int("status", resp.StatusCode).Str("session_id", sessionID).Msg("Meeting provider returned error")
		return "", fmt.Errorf("meeting provider returned status %d", resp.StatusCode)
	}

	var room createRoomResponse
	if err := json.Unmarshal(respBody, &room); err != nil {
		return "", fmt.Errorf("decode meeting provider response: %w", err)
	}
	if room.URL == "" {
		return "", fmt.Errorf("meeting provider returned empty room url")
	}

	return room.URL, nil
}
