// Package rmclient is the Transaction Manager's HTTP client for calling
// prepare/commit/abort on a participant RM, grounded on original_source's
// tm_client.py request pattern (plain requests.post, status-code-driven
// error handling) but written as a pooled net/http.Client the way the
// teacher's pkg/health.HTTPChecker wraps one.
package rmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// Client implements tm.RMDialer.
type Client struct {
	http *http.Client
}

// New returns a Client with a bounded per-call timeout.
func New() *Client {
	return &Client{http: &http.Client{Timeout: 5 * time.Second}}
}

func (c *Client) post(endpoint, path string, body any, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+path, bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

// Prepare calls POST /txn/prepare on endpoint. A logical prepare rejection
// (ok=false with an error kind in the body) is not a transport error: the
// caller distinguishes it from a dial failure via the returned err.
func (c *Client) Prepare(endpoint string, xid int64) (ok bool, errKind string, err error) {
	var resp rpc.PrepareResponse
	_, err = c.post(endpoint, "/txn/prepare", rpc.TxnRequest{Xid: xid}, &resp)
	if err != nil {
		return false, "", err
	}
	return resp.OK, resp.Error, nil
}

// Commit calls POST /txn/commit on endpoint. Any non-2xx status or
// transport failure is returned as err so the caller can retry.
func (c *Client) Commit(endpoint string, xid int64) error {
	return c.completeCall(endpoint, "/txn/commit", xid)
}

// Abort calls POST /txn/abort on endpoint.
func (c *Client) Abort(endpoint string, xid int64) error {
	return c.completeCall(endpoint, "/txn/abort", xid)
}

func (c *Client) completeCall(endpoint, path string, xid int64) error {
	var resp rpc.ErrorResponse
	status, err := c.post(endpoint, path, rpc.TxnRequest{Xid: xid}, &resp)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("rmclient: %s %s returned %d: %s", path, endpoint, status, resp.Error)
	}
	return nil
}
