package graph

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/gabriel-vasile/mimetype"

	"github.com/joaooservit/oserv-cloud-storage/backend"
)

const conflictRename = "rename"

// RootID resolves the drive root to its item id.
func (c *Client) RootID(ctx context.Context) (string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.itemURL(RootAlias)+"?$select=id", nil, true)
	if err != nil {
		return "", err
	}
	resp, err := c.send("get root", req, http.StatusOK)
	if err != nil {
		return "", err
	}
	var item driveItem
	if err := decode(resp, &item); err != nil {
		return "", &backend.RemoteError{Op: "get root", Status: resp.StatusCode, Err: err}
	}
	return item.ID, nil
}

func (c *Client) ListChildren(ctx context.Context, containerID string) ([]backend.RemoteNode, error) {
	next := c.itemURL(containerID) + "/children?$select=id,name,size,folder,file"
	var out []backend.RemoteNode
	for next != "" {
		req, err := c.newRequest(ctx, http.MethodGet, next, nil, true)
		if err != nil {
			return nil, err
		}
		resp, err := c.send("list children", req, http.StatusOK)
		if err != nil {
			return nil, err
		}
		var page childrenPage
		if err := decode(resp, &page); err != nil {
			return nil, &backend.RemoteError{Op: "list children", Status: resp.StatusCode, Err: fmt.Errorf("decode listing: %w", err)}
		}
		for _, item := range page.Value {
			out = append(out, item.node())
		}
		next = page.NextLink
	}
	return out, nil
}

func (c *Client) CreateContainer(ctx context.Context, parentID, name string) (backend.RemoteNode, error) {
	req, err := c.newJSONRequest(ctx, http.MethodPost, c.itemURL(parentID)+"/children", createFolderRequest{
		Name:     name,
		Conflict: conflictRename,
	})
	if err != nil {
		return backend.RemoteNode{}, err
	}
	resp, err := c.send("create folder", req, http.StatusCreated, http.StatusOK)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	var item driveItem
	if err := decode(resp, &item); err != nil {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "create folder", Status: resp.StatusCode, Err: err}
	}
	n := item.node()
	n.IsContainer = true
	return n, nil
}

// PutContent uses the simple upload endpoint, capped at MaxSimpleUpload.
func (c *Client) PutContent(ctx context.Context, parentID, name string, body io.Reader, size int64) (backend.RemoteNode, error) {
	br := bufio.NewReaderSize(body, 3072)
	head, _ := br.Peek(3072)
	contentType := mimetype.Detect(head).String()

	var payload io.Reader = br
	if size == 0 {
		payload = http.NoBody
	}
	u := c.itemURL(parentID) + ":/" + url.PathEscape(name) + ":/content"
	req, err := c.newRequest(ctx, http.MethodPut, u, payload, true)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	req.ContentLength = size
	req.Header.Set("Content-Type", contentType)

	resp, err := c.send("upload file", req, http.StatusCreated, http.StatusOK)
	if err != nil {
		return backend.RemoteNode{}, err
	}
	var item driveItem
	if err := decode(resp, &item); err != nil {
		return backend.RemoteNode{}, &backend.RemoteError{Op: "upload file", Status: resp.StatusCode, Err: err}
	}
	return item.node(), nil
}

func (c *Client) GetContent(ctx context.Context, nodeID string) (io.ReadCloser, int64, error) {
	req, err := c.newRequest(ctx, http.MethodGet, c.itemURL(nodeID)+"/content", nil, true)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Del("Accept")
	resp, err := c.send("download file", req, http.StatusOK)
	if err != nil {
		return nil, 0, err
	}
	return resp.Body, resp.ContentLength, nil
}
