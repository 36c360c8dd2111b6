package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

const defaultTimeout = 60 * time.Second

// Client is a Go client for the registry's cargo-compatible HTTP API. The
// internal builder uses it with the self-service credential; external
// tooling can use it with a regular API token.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for a registry at baseURL authenticating with the
// given token secret.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout: defaultTimeout,
			// Download returns a redirect to a pre-signed URL; callers decide
			// whether to follow it.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Publish frames metadata and archive into the publish envelope and uploads
// them.
func (c *Client) Publish(ctx context.Context, metadata *types.CrateMetadata, archive []byte) (*types.UploadResult, error) {
	metaBuf, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	payload := binary.LittleEndian.AppendUint32(nil, uint32(len(metaBuf)))
	payload = append(payload, metaBuf...)
	payload = binary.LittleEndian.AppendUint32(payload, uint32(len(archive)))
	payload = append(payload, archive...)

	var result types.UploadResult
	if err := c.do(ctx, http.MethodPut, "/api/v1/crates/new", payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Search queries crates matching the string.
func (c *Client) Search(ctx context.Context, query string, perPage int) (*types.SearchResults, error) {
	path := "/api/v1/crates?q=" + url.QueryEscape(query)
	if perPage > 0 {
		path += "&per_page=" + strconv.Itoa(perPage)
	}
	var results types.SearchResults
	if err := c.do(ctx, http.MethodGet, path, nil, &results); err != nil {
		return nil, err
	}
	return &results, nil
}

// Info fetches the merged crate information.
func (c *Client) Info(ctx context.Context, name string) (*types.CrateInfo, error) {
	var info types.CrateInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/crates/"+url.PathEscape(name), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Versions fetches the raw index records of a crate.
func (c *Client) Versions(ctx context.Context, name string) ([]types.IndexRecord, error) {
	var records []types.IndexRecord
	path := "/api/v1/crates/" + url.PathEscape(name) + "/versions"
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DownloadURL resolves the pre-signed download location for a version
// without fetching the archive.
func (c *Client) DownloadURL(ctx context.Context, name, version string) (string, error) {
	path := fmt.Sprintf("/api/v1/crates/%s/%s/download", url.PathEscape(name), url.PathEscape(version))
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", apierr.Upstream("registry unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusFound {
		return "", decodeError(resp)
	}
	return resp.Header.Get("Location"), nil
}

// Yank marks a version as unselectable for new resolutions.
func (c *Client) Yank(ctx context.Context, name, version string) error {
	path := fmt.Sprintf("/api/v1/crates/%s/%s/yank", url.PathEscape(name), url.PathEscape(version))
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Unyank reverses a yank.
func (c *Client) Unyank(ctx context.Context, name, version string) error {
	path := fmt.Sprintf("/api/v1/crates/%s/%s/unyank", url.PathEscape(name), url.PathEscape(version))
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// Owners lists the owners of a crate.
func (c *Client) Owners(ctx context.Context, name string) (*types.OwnersQueryResult, error) {
	var owners types.OwnersQueryResult
	path := "/api/v1/crates/" + url.PathEscape(name) + "/owners"
	if err := c.do(ctx, http.MethodGet, path, nil, &owners); err != nil {
		return nil, err
	}
	return &owners, nil
}

// AddOwners adds owners by login.
func (c *Client) AddOwners(ctx context.Context, name string, logins []string) error {
	body, err := json.Marshal(types.OwnersChangeQuery{Users: logins})
	if err != nil {
		return err
	}
	path := "/api/v1/crates/" + url.PathEscape(name) + "/owners"
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// RemoveOwners removes owners by login.
func (c *Client) RemoveOwners(ctx context.Context, name string, logins []string) error {
	body, err := json.Marshal(types.OwnersChangeQuery{Users: logins})
	if err != nil {
		return err
	}
	path := "/api/v1/crates/" + url.PathEscape(name) + "/owners"
	return c.do(ctx, http.MethodDelete, path, body, nil)
}

func (c *Client) newRequest(ctx context.Context, method, path string, body []byte) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	return req, nil
}

// do executes a request and decodes the JSON response into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return apierr.Upstream("registry unreachable", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// decodeError maps an error envelope back to a typed error.
func decodeError(resp *http.Response) error {
	kind := kindForStatus(resp.StatusCode)

	var envelope apierr.ResponseErrors
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err == nil && len(envelope.Errors) > 0 {
		return apierr.New(kind, envelope.Errors[0].Detail)
	}
	return apierr.Newf(kind, "registry returned %d", resp.StatusCode)
}

func kindForStatus(status int) apierr.Kind {
	switch status {
	case http.StatusUnauthorized:
		return apierr.KindUnauthorized
	case http.StatusForbidden:
		return apierr.KindForbidden
	case http.StatusNotFound:
		return apierr.KindNotFound
	case http.StatusBadRequest:
		return apierr.KindInvalidRequest
	case http.StatusConflict:
		return apierr.KindConflict
	case http.StatusBadGateway:
		return apierr.KindUpstreamFailure
	default:
		return apierr.KindInternal
	}
}
