// Package relay implements the typed client for the control API exposed by
// MediaMTX-compatible relay nodes.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/dan246/mtx-toolkit/internal/httpclient"
	"github.com/dan246/mtx-toolkit/internal/models"
)

const (
	apiPrefix       = "/v3"
	listPageSize    = 100
	maxErrorBodyLen = 512
)

// Client talks to one relay node's control API.
type Client struct {
	baseURL string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a client for the node API at baseURL.
func NewClient(baseURL string, hc *httpclient.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		logger:  logger,
	}
}

// ListPaths returns every runtime path on the node, walking all pages.
func (c *Client) ListPaths(ctx context.Context) ([]PathInfo, error) {
	var all []PathInfo
	for page := 0; ; page++ {
		endpoint := fmt.Sprintf("%s/paths/list?itemsPerPage=%d&page=%d", apiPrefix, listPageSize, page)
		var list pathList
		if err := c.getJSON(ctx, endpoint, &list); err != nil {
			return nil, err
		}
		all = append(all, list.Items...)
		if page+1 >= list.PageCount {
			break
		}
	}
	return all, nil
}

// GetPathConfig returns the configuration entry for one path.
func (c *Client) GetPathConfig(ctx context.Context, name string) (PathConf, error) {
	var conf PathConf
	err := c.getJSON(ctx, apiPrefix+"/config/paths/get/"+url.PathEscape(name), &conf)
	if err != nil {
		if IsBadStatus(err, http.StatusNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrPathNotFound, name)
		}
		return nil, err
	}
	return conf, nil
}

// AddPath creates a path configuration entry on the node.
func (c *Client) AddPath(ctx context.Context, name string, conf PathConf) error {
	return c.mutate(ctx, http.MethodPost, apiPrefix+"/config/paths/add/"+url.PathEscape(name), conf)
}

// DeletePath removes a path configuration entry from the node.
func (c *Client) DeletePath(ctx context.Context, name string) error {
	return c.mutate(ctx, http.MethodDelete, apiPrefix+"/config/paths/delete/"+url.PathEscape(name), nil)
}

// GetGlobalConfig returns the node's global configuration document.
func (c *Client) GetGlobalConfig(ctx context.Context) (GlobalConf, error) {
	var conf GlobalConf
	if err := c.getJSON(ctx, apiPrefix+"/config/global/get", &conf); err != nil {
		return nil, err
	}
	return conf, nil
}

// PatchGlobalConfig merges the given document into the node's global
// configuration.
func (c *Client) PatchGlobalConfig(ctx context.Context, conf GlobalConf) error {
	return c.mutate(ctx, http.MethodPatch, apiPrefix+"/config/global/patch", conf)
}

// ListSessions returns the node's sessions for one protocol. A node with
// the protocol disabled returns ErrProtocolDisabled, which callers should
// treat as zero sessions rather than a failure.
func (c *Client) ListSessions(ctx context.Context, protocol models.Protocol) ([]Session, error) {
	segment, ok := SessionEndpoint(protocol)
	if !ok {
		return nil, fmt.Errorf("protocol %q has no session endpoint", protocol)
	}

	var all []Session
	for page := 0; ; page++ {
		endpoint := fmt.Sprintf("%s/%s/list?itemsPerPage=%d&page=%d", apiPrefix, segment, listPageSize, page)
		var list sessionList
		if err := c.getJSON(ctx, endpoint, &list); err != nil {
			if IsBadStatus(err, http.StatusNotFound) {
				return nil, ErrProtocolDisabled
			}
			return nil, err
		}
		all = append(all, list.Items...)
		if page+1 >= list.PageCount {
			break
		}
	}
	return all, nil
}

// KickSession terminates one session by protocol and ID.
func (c *Client) KickSession(ctx context.Context, protocol models.Protocol, id string) error {
	segment, ok := SessionEndpoint(protocol)
	if !ok {
		return fmt.Errorf("protocol %q has no session endpoint", protocol)
	}
	return c.mutate(ctx, http.MethodPost, apiPrefix+"/"+segment+"/kick/"+url.PathEscape(id), nil)
}

// KickPathSessions terminates every session attached to one path across all
// session protocols. It returns the number of sessions kicked.
func (c *Client) KickPathSessions(ctx context.Context, path string) (int, error) {
	kicked := 0
	for _, protocol := range models.SessionProtocols {
		sessions, err := c.ListSessions(ctx, protocol)
		if err != nil {
			if err == ErrProtocolDisabled {
				continue
			}
			return kicked, err
		}
		for _, session := range sessions {
			if session.Path != path {
				continue
			}
			if err := c.KickSession(ctx, protocol, session.ID); err != nil {
				return kicked, err
			}
			kicked++
		}
	}
	return kicked, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	resp, err := c.http.Get(ctx, c.baseURL+endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &BadStatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding relay response: %w", err)
	}
	return nil
}

func (c *Client) mutate(ctx context.Context, method, endpoint string, body any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	default:
		return &BadStatusError{Code: resp.StatusCode, Body: readErrorBody(resp.Body)}
	}
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyLen))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
