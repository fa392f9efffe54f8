package graph

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

const (
	// RangeAlignment divides every range of a session except the last.
	RangeAlignment = 320 << 10
	// MaxRangeSize is the largest range one PUT may carry.
	MaxRangeSize = 60 << 20
	// MaxSimpleUpload is the largest body PutContent accepts.
	MaxSimpleUpload = 4 << 20
)

func (c *Client) OpenSession(ctx context.Context, parentID, name string, size int64) (string, error) {
	var body uploadSessionRequest
	body.Item.Conflict = conflictRename

	u := c.itemURL(parentID) + ":/" + url.PathEscape(name) + ":/createUploadSession"
	req, err := c.newJSONRequest(ctx, http.MethodPost, u, body)
	if err != nil {
		return "", err
	}
	resp, err := c.send("create upload session", req, http.StatusOK)
	if err != nil {
		if re, ok := backend.AsRemote(err); ok {
			return "", &backend.SessionError{Op: "open", Status: re.Status, Msg: re.Body, Err: re.Err}
		}
		return "", err
	}
	var sess uploadSessionResponse
	if err := decode(resp, &sess); err != nil {
		return "", &backend.SessionError{Op: "open", Status: resp.StatusCode, Err: err}
	}
	return sess.UploadURL, nil
}

// PutRange sends one range to a pre-authorised upload URL. The URL carries
// its own credentials, so no bearer token is attached.
func (c *Client) PutRange(ctx context.Context, uploadURL string, data []byte, offset, total int64) (backend.RangeResult, error) {
	end := offset + int64(len(data)) - 1
	req, err := c.newRequest(ctx, http.MethodPut, uploadURL, bytes.NewReader(data), false)
	if err != nil {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Err: err}
	}
	req.ContentLength = int64(len(data))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))

	resp, err := c.http.Do(req)
	if err != nil {
		return backend.RangeResult{}, &backend.SessionError{Op: "put range", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusAccepted:
		return backend.RangeResult{}, nil
	case http.StatusOK, http.StatusCreated:
		var item driveItem
		if err := decodeBody(resp, &item); err != nil {
			return backend.RangeResult{}, &backend.SessionError{Op: "put range", Status: resp.StatusCode, Err: err}
		}
		n := item.node()
		return backend.RangeResult{Node: &n}, nil
	default:
		return backend.RangeResult{}, &backend.SessionError{
			Op:     "put range",
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("bytes %d-%d/%d: %s", offset, end, total, readErrorBody(resp.Body)),
		}
	}
}

// CancelSession deletes the upload session so the service drops the ranges
// it holds. A session that already expired answers 404, which counts as done.
func (c *Client) CancelSession(ctx context.Context, uploadURL string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, uploadURL, nil, false)
	if err != nil {
		return &backend.SessionError{Op: "cancel", Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &backend.SessionError{Op: "cancel", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK, http.StatusNotFound:
		return nil
	default:
		return &backend.SessionError{Op: "cancel", Status: resp.StatusCode, Msg: readErrorBody(resp.Body)}
	}
}
