package wc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/JoDio-zd/resvoy/pkg/rpc"
)

// RMClient is a generic Resource Manager client shared by every business
// router: flights, hotels, cars, and customers RMs all speak the same
// read/insert/update/delete/prepare-independent CRUD contract, ported from
// original_source's services/rm_client.py RMClient (one client class
// parameterized by resource name and base URL).
type RMClient struct {
	ResourceName string
	BaseURL      string
	http         *http.Client
}

// NewRMClient returns an RMClient for resourceName at baseURL (e.g.
// "http://rm-flights:8001").
func NewRMClient(resourceName, baseURL string) *RMClient {
	return &RMClient{ResourceName: resourceName, BaseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *RMClient) request(method, path string, body any) (*http.Response, error) {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Insert creates a new resource under xid.
func (c *RMClient) Insert(xid int64, record map[string]any) (map[string]any, *WCError) {
	resp, err := c.request(http.MethodPost, "/records", rpc.InsertRequest{Xid: xid, Record: record})
	if err != nil {
		return nil, ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	defer resp.Body.Close()
	var out rpc.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	if resp.StatusCode == http.StatusConflict {
		return nil, ErrResourceConflict(xid, c.ResourceName, keyOf(record), out.Error)
	}
	if !out.OK {
		return nil, ErrRMCommunication(xid, c.ResourceName, out.Error)
	}
	return record, nil
}

// Query reads a resource by key. xid is optional for plain reads outside a
// transaction (pass 0).
func (c *RMClient) Query(xid int64, key string) (map[string]any, *WCError) {
	path := "/records/" + url.PathEscape(key) + "?xid=" + strconv.FormatInt(xid, 10)
	resp, err := c.request(http.MethodGet, path, nil)
	if err != nil {
		return nil, ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrResourceNotFound(xid, c.ResourceName, key)
	}
	var out rpc.RecordResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	return out.Record, nil
}

// Update applies a field-level patch to the resource at key under xid.
func (c *RMClient) Update(xid int64, key string, updates map[string]any) *WCError {
	resp, err := c.request(http.MethodPut, "/records/"+url.PathEscape(key), rpc.UpdateRequest{Xid: xid, Updates: updates})
	if err != nil {
		return ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	defer resp.Body.Close()
	var out rpc.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	if resp.StatusCode == http.StatusConflict {
		return ErrResourceConflict(xid, c.ResourceName, key, out.Error)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrResourceNotFound(xid, c.ResourceName, key)
	}
	if !out.OK {
		return ErrRMCommunication(xid, c.ResourceName, out.Error)
	}
	return nil
}

// Delete removes the resource at key under xid.
func (c *RMClient) Delete(xid int64, key string) *WCError {
	path := "/records/" + url.PathEscape(key) + "?xid=" + strconv.FormatInt(xid, 10)
	resp, err := c.request(http.MethodDelete, path, nil)
	if err != nil {
		return ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	defer resp.Body.Close()
	var out rpc.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return ErrRMCommunication(xid, c.ResourceName, err.Error())
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrResourceNotFound(xid, c.ResourceName, key)
	}
	if !out.OK {
		return ErrRMCommunication(xid, c.ResourceName, out.Error)
	}
	return nil
}

// keyOf extracts a human-readable key from a record for error messages,
// trying each RM's known primary-key field name in turn.
func keyOf(record map[string]any) string {
	for _, candidate := range []string{"flightNum", "hotelId", "carType", "custName"} {
		if v, ok := record[candidate]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			return fmt.Sprintf("%v", v)
		}
	}
	return "?"
}
