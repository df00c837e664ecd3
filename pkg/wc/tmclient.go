package wc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// TMClient is the WC's HTTP client for the Transaction Manager, grounded
// on original_source's services/tm_client.py.
type TMClient struct {
	BaseURL string
	http    *http.Client
}

// NewTMClient returns a TMClient pointed at baseURL (e.g. "http://tm:9000").
func NewTMClient(baseURL string) *TMClient {
	return &TMClient{BaseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *TMClient) do(path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(out)
}

// Start obtains a fresh xid from the TM.
func (c *TMClient) Start(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/txn/start", bytes.NewReader([]byte("{}")))
	if err != nil {
		return 0, ErrTMCommunication(0, err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, ErrTMCommunication(0, err.Error())
	}
	defer resp.Body.Close()
	var out rpc.StartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, ErrTMCommunication(0, err.Error())
	}
	return out.Xid, nil
}

// Commit asks the TM to commit xid, returning the final (or IN_DOUBT)
// status string.
func (c *TMClient) Commit(xid int64) (string, error) {
	var out rpc.CommitResponse
	if err := c.do("/txn/commit", rpc.TxnRequest{Xid: xid}, &out); err != nil {
		return "", ErrTMCommunication(xid, err.Error())
	}
	return out.Status, nil
}

// Abort asks the TM to abort xid. RunTxn's auto-abort treats this as
// best-effort: it logs a failure here and does not return it. The WC's
// manual abort route returns the failure to its caller.
func (c *TMClient) Abort(xid int64) error {
	var out rpc.AbortResponse
	if err := c.do("/txn/abort", rpc.TxnRequest{Xid: xid}, &out); err != nil {
		return ErrAbort(xid, err.Error())
	}
	return nil
}

// Status queries the TM for xid's current status.
func (c *TMClient) Status(xid int64) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/txn/"+strconv.FormatInt(xid, 10), nil)
	if err != nil {
		return "", ErrTMCommunication(xid, err.Error())
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", ErrTMCommunication(xid, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", ErrTransactionNotFound(xid)
	}
	var out rpc.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", ErrTMCommunication(xid, err.Error())
	}
	return out.Status, nil
}
