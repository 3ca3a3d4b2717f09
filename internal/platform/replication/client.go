package replication

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaxrec/vaxrec/internal/platform/store"
)

// RemoteInfo is the handshake response for one collection.
type RemoteInfo struct {
	DB        string `json:"db"`
	UpdateSeq int64  `json:"update_seq"`
}

// ChangesPage is one page of the remote change feed.
type ChangesPage struct {
	Results []store.Change `json:"results"`
	LastSeq int64          `json:"last_seq"`
	// Skipped counts entries dropped because they could not be decoded.
	Skipped int `json:"-"`
}

// BulkResult is the per-document outcome of a push batch.
type BulkResult struct {
	ID    string `json:"id"`
	Rev   int64  `json:"rev,omitempty"`
	Error string `json:"error,omitempty"`
}

// Remote is the client side of the document-sync protocol.
type Remote interface {
	Handshake(ctx context.Context, collection string) (RemoteInfo, error)
	Changes(ctx context.Context, collection string, since int64, limit int) (ChangesPage, error)
	Bulk(ctx context.Context, collection string, changes []store.Change) ([]BulkResult, error)
}

// HTTPRemote speaks the sync protocol against a remote base URL.
type HTTPRemote struct {
	base   string
	token  string
	client *http.Client
	log    zerolog.Logger
}

// NewHTTPRemote builds a client for baseURL. token, when non-empty, is sent
// as a bearer credential.
func NewHTTPRemote(baseURL, token string, logger zerolog.Logger) *HTTPRemote {
	return &HTTPRemote{
		base:   baseURL,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    logger.With().Str("component", "sync-client").Logger(),
	}
}

func (r *HTTPRemote) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, r.base+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnreachable, err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrRemoteAuth, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d for %s %s", ErrRemoteUnreachable, resp.StatusCode, method, path)
	}
	return resp, nil
}

func (r *HTTPRemote) Handshake(ctx context.Context, collection string) (RemoteInfo, error) {
	resp, err := r.do(ctx, http.MethodGet, "/sync/"+url.PathEscape(collection), nil)
	if err != nil {
		return RemoteInfo{}, err
	}
	defer resp.Body.Close()

	var info RemoteInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return RemoteInfo{}, fmt.Errorf("%w: handshake: %v", store.ErrMalformedData, err)
	}
	return info, nil
}

// Changes pulls the remote feed after since. Entries that fail to decode
// are logged and skipped so one corrupt document cannot wedge the feed.
func (r *HTTPRemote) Changes(ctx context.Context, collection string, since int64, limit int) (ChangesPage, error) {
	path := fmt.Sprintf("/sync/%s/changes?since=%d&limit=%d",
		url.PathEscape(collection), since, limit)
	resp, err := r.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return ChangesPage{}, err
	}
	defer resp.Body.Close()

	var raw struct {
		Results []json.RawMessage `json:"results"`
		LastSeq int64             `json:"last_seq"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ChangesPage{}, fmt.Errorf("%w: changes feed: %v", store.ErrMalformedData, err)
	}

	page := ChangesPage{LastSeq: raw.LastSeq}
	for _, entry := range raw.Results {
		var change store.Change
		if err := json.Unmarshal(entry, &change); err != nil || change.ID == "" {
			page.Skipped++
			r.log.Warn().Str("collection", collection).
				Err(err).Msg("skipping malformed change entry")
			continue
		}
		page.Results = append(page.Results, change)
	}
	return page, nil
}

func (r *HTTPRemote) Bulk(ctx context.Context, collection string, changes []store.Change) ([]BulkResult, error) {
	payload, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}
	resp, err := r.do(ctx, http.MethodPost, "/sync/"+url.PathEscape(collection)+"/bulk", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var results []BulkResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("%w: bulk response: %v", store.ErrMalformedData, err)
	}
	return results, nil
}
