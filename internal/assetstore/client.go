// Package assetstore is a thin client for the out-of-scope asset-storage
// backend meeting-notes hands generated PDFs to (spec.md §1: "the asset
// store only produces artifacts and hands them to the asset store
// through a narrow save interface"). Like internal/padservice, it is a
// plain net/http JSON caller rather than a generated SDK: the asset
// store's own wire protocol is a collaborator we don't design.
package assetstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/opentalk/controller/internal/ids"
	"github.com/opentalk/controller/internal/modules/authoreddoc"
)

// Client saves artifacts to an asset-store deployment over plain HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New builds a Client against an asset-store base URL.
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

var _ authoreddoc.AssetStore = (*Client)(nil)

type saveResponse struct {
	AssetID string `json:"asset_id"`
}

// SaveAsset satisfies authoreddoc.AssetStore. A 507 response from the
// store maps to authoreddoc.ErrStorageExceeded (spec.md §4.7 GeneratePdf
// -> Error::StorageExceeded).
func (c *Client) SaveAsset(ctx context.Context, room ids.RoomID, namespace, filename string, data []byte) (ids.AssetID, error) {
	url := fmt.Sprintf("%s/rooms/%s/assets/%s/%s", c.baseURL, room.String(), namespace, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(data))
	if err != nil {
		return ids.AssetID{}, fmt.Errorf("assetstore: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return ids.AssetID{}, fmt.Errorf("assetstore: save asset: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusInsufficientStorage {
		return ids.AssetID{}, authoreddoc.ErrStorageExceeded
	}
	if resp.StatusCode >= 300 {
		return ids.AssetID{}, fmt.Errorf("assetstore: save asset: status %d", resp.StatusCode)
	}

	var out saveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ids.AssetID{}, fmt.Errorf("assetstore: decode response: %w", err)
	}
	u, err := uuid.Parse(out.AssetID)
	if err != nil {
		return ids.AssetID{}, fmt.Errorf("assetstore: parse asset id: %w", err)
	}
	return ids.AssetID(u), nil
}
