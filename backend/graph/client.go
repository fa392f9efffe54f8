// Package graph talks to a Microsoft Graph drive (OneDrive or a SharePoint
// document library) over its REST API.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joaooservit/oserv-cloud-storage/backend"
	"github.com/joaooservit/oserv-cloud-storage/internal"
)

const (
	RootAlias    = "root"
	maxErrorBody = 4 << 10
)

type Config struct {
	BaseURL string
	// SiteID selects a SharePoint site drive. Ignored when DrivePath is set.
	SiteID string
	// DrivePath overrides the drive segment, e.g. "me/drive" or "drives/{id}".
	DrivePath  string
	HTTPClient *http.Client
}

type Client struct {
	driveURL string
	token    string
	http     *http.Client
}

var (
	_ backend.RemoteDirectory  = (*Client)(nil)
	_ backend.SessionUploader  = (*Client)(nil)
	_ backend.RootResolver     = (*Client)(nil)
	_ backend.SessionCanceller = (*Client)(nil)
)

func New(cfg Config, token string) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = internal.DefaultGraphURL
	}

	var drive string
	switch {
	case cfg.DrivePath != "":
		drive = base + "/" + strings.Trim(cfg.DrivePath, "/")
	case cfg.SiteID != "":
		drive = base + "/sites/" + cfg.SiteID + "/drive"
	default:
		return nil, fmt.Errorf("graph backend needs site_id or drive_path")
	}

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &Client{driveURL: drive, token: token, http: hc}, nil
}

func (c *Client) itemURL(id string) string {
	if id == "" || id == RootAlias {
		return c.driveURL + "/root"
	}
	return c.driveURL + "/items/" + id
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader, auth bool) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}
	if auth {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("client-request-id", uuid.NewString())
	return req, nil
}

func (c *Client) newJSONRequest(ctx context.Context, method, url string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := c.newRequest(ctx, method, url, bytes.NewReader(data), true)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// send performs req and returns the response when its status is one of ok.
// Any other status is turned into a RemoteError and the body is closed.
func (c *Client) send(op string, req *http.Request, ok ...int) (*http.Response, error) {
	internal.Debug("graph request", internal.Fields{
		internal.FieldMsg:        req.Method + " " + req.URL.Path,
		internal.FieldRemotePath: op,
	})
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &backend.RemoteError{Op: op, Err: err}
	}
	for _, s := range ok {
		if resp.StatusCode == s {
			return resp, nil
		}
	}
	defer resp.Body.Close()
	return nil, &backend.RemoteError{Op: op, Status: resp.StatusCode, Body: readErrorBody(resp.Body)}
}

func readErrorBody(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))
	var env errorEnvelope
	if json.Unmarshal(data, &env) == nil && env.Error.Message != "" {
		if env.Error.Code != "" {
			return env.Error.Code + ": " + env.Error.Message
		}
		return env.Error.Message
	}
	return strings.TrimSpace(string(data))
}

func decode(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeBody(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}
