// Package padservice is a thin REST client for the out-of-scope
// collaborative-document backend the meeting-notes module drives
// (spec.md §1, §4.7, §9 "Asynchronous lifetime of external sessions"):
// it provisions a document group per room, mints per-participant
// writer/reader sessions, and downloads a rendered PDF on demand. The
// service itself (and its wire protocol) is a collaborator we do not
// design, so the client is a plain net/http JSON caller rather than a
// generated SDK, the same boundary the teacher draws around its own
// out-of-scope services (internal/v1/summary, internal/v1/stream_processor)
// — those happen to be gRPC because that backend speaks gRPC; this one
// is REST because that is what a pad service (e.g. Etherpad/HedgeDoc-style)
// exposes.
package padservice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/modules/authoreddoc"
)

// sessionExpiry is the fixed session lifetime spec.md §9 flags as a
// workaround for the absence of a refresh primitive: "the meeting-notes
// module creates sessions with a fixed 14-day expiry ... implementations
// should prefer a proper refresh if available." No refresh endpoint is
// named in scope, so the workaround stands.
const sessionExpiry = 14 * 24 * time.Hour

// Client talks to a pad-service deployment over plain HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against a pad-service base URL (e.g.
// "http://pad-service.internal:3000").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

var _ authoreddoc.Provisioner = (*Client)(nil)
var _ authoreddoc.PDFSource = (*Client)(nil)

type createGroupResponse struct {
	GroupID string `json:"group_id"`
}

// CreateGroup satisfies authoreddoc.Provisioner.
func (c *Client) CreateGroup(ctx context.Context, room ids.SignalingRoomID) ([]byte, error) {
	var resp createGroupResponse
	if err := c.do(ctx, http.MethodPost, "/groups", map[string]string{"room": room.String()}, &resp); err != nil {
		return nil, fmt.Errorf("padservice: create group: %w", err)
	}
	return json.Marshal(resp)
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CreateSession satisfies authoreddoc.Provisioner.
func (c *Client) CreateSession(ctx context.Context, room ids.SignalingRoomID, group []byte, p ids.ParticipantID, readonly bool) (authoreddoc.SessionInfo, string, error) {
	var g createGroupResponse
	if err := json.Unmarshal(group, &g); err != nil {
		return authoreddoc.SessionInfo{}, "", fmt.Errorf("padservice: decode group handle: %w", err)
	}

	var resp createSessionResponse
	req := map[string]any{
		"group_id": g.GroupID,
		"author":   p.String(),
		"readonly": readonly,
		"expires":  time.Now().Add(sessionExpiry).Unix(),
	}
	if err := c.do(ctx, http.MethodPost, "/groups/"+g.GroupID+"/sessions", req, &resp); err != nil {
		return authoreddoc.SessionInfo{}, "", fmt.Errorf("padservice: create session: %w", err)
	}

	info := authoreddoc.SessionInfo{
		AuthorID:  p.String(),
		GroupID:   g.GroupID,
		SessionID: resp.SessionID,
		Readonly:  readonly,
	}
	return info, resp.URL, nil
}

// TeardownSession satisfies authoreddoc.Provisioner. Best-effort: the pad
// service may be temporarily unreachable and the room must still be
// destructible locally (spec.md §9), so failures are swallowed by the
// caller, not retried here.
func (c *Client) TeardownSession(ctx context.Context, session authoreddoc.SessionInfo) error {
	return c.do(ctx, http.MethodDelete, "/groups/"+session.GroupID+"/sessions/"+session.SessionID, nil, nil)
}

// DownloadPDF satisfies authoreddoc.PDFSource.
func (c *Client) DownloadPDF(ctx context.Context, session authoreddoc.SessionInfo) ([]byte, error) {
	url := c.baseURL + "/groups/" + session.GroupID + "/sessions/" + session.SessionID + "/pdf"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("padservice: build pdf request: %w", err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("padservice: download pdf: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("padservice: download pdf: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("padservice: read pdf body: %w", err)
	}
	return data, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
