// Package boardsync provides a client for the boardsync REST API and
// realtime board sessions.
package boardsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client is a boardsync API client.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a new boardsync client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:8000"
	}
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("boardsync error %d: %s", e.StatusCode, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Board is a persisted board.
type Board struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	PreviewImage string          `json:"previewImage,omitempty"`
	Snapshot     json.RawMessage `json:"snapshot,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// CreateBoard creates a new board.
func (c *Client) CreateBoard(ctx context.Context, name string) (*Board, error) {
	var resp Board
	if err := c.doRequest(ctx, http.MethodPost, "/api/boards", map[string]string{"name": name}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// BoardInfo is a board in list responses.
type BoardInfo struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	PreviewImage string `json:"previewImage"`
	UpdatedAt    string `json:"updatedAt"`
}

// BoardList is the response from listing boards.
type BoardList struct {
	Boards []BoardInfo `json:"boards"`
	Total  int         `json:"total"`
}

// ListBoards lists boards, most recently active first. An empty query
// matches every board.
func (c *Client) ListBoards(ctx context.Context, query string, limit, offset int) (*BoardList, error) {
	v := url.Values{}
	if query != "" {
		v.Set("q", query)
	}
	if limit > 0 {
		v.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		v.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/boards"
	if len(v) > 0 {
		path += "?" + v.Encode()
	}

	var resp BoardList
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBoard gets a board with its latest persisted snapshot.
func (c *Client) GetBoard(ctx context.Context, id string) (*Board, error) {
	var resp Board
	if err := c.doRequest(ctx, http.MethodGet, "/api/boards/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteBoard deletes a board.
func (c *Client) DeleteBoard(ctx context.Context, id string) error {
	return c.doRequest(ctx, http.MethodDelete, "/api/boards/"+url.PathEscape(id), nil, nil)
}

// Participant is a roster entry.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	Name         string `json:"name"`
	JoinedAt     int64  `json:"joinedAt"`
}

// SessionStats describes a live session.
type SessionStats struct {
	SessionID         string        `json:"sessionId"`
	Live              bool          `json:"live"`
	ParticipantsCount int           `json:"participantsCount"`
	Participants      []Participant `json:"participants"`
	CanUndo           bool          `json:"canUndo"`
	CanRedo           bool          `json:"canRedo"`
	UpdatedAt         *time.Time    `json:"updatedAt,omitempty"`
}

// GetSession reports who is currently in a session.
func (c *Client) GetSession(ctx context.Context, id string) (*SessionStats, error) {
	var resp SessionStats
	if err := c.doRequest(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stats is the response from the stats endpoint.
type Stats struct {
	TotalBoards      int64  `json:"totalBoards"`
	LiveSessions     int    `json:"liveSessions"`
	LiveParticipants int    `json:"liveParticipants"`
	OpenConnections  int    `json:"openConnections"`
	LastActivity     string `json:"lastActivity"`
	RecentlyActive   []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"recentlyActive"`
}

// Stats gets server-wide activity counters.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var resp Stats
	if err := c.doRequest(ctx, http.MethodGet, "/api/stats", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Region    string                 `json:"region,omitempty"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server is reported as an *APIError
// with status 503.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
