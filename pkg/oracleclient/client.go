// Package oracleclient is the transport-backed Access Oracle client used by
// any component that runs the oracle as a separate process rather than
// sharing its repository in-process. It satisfies watcher.Subscribers over
// the oracle's request/reply wire contract (pkg/oracle's {op, ...} request
// shape) instead of calling *oracle.Service directly.
package oracleclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"docindex/pkg/errkind"
	"docindex/pkg/oracle"
	"docindex/pkg/transport"
)

// Client calls a remote access oracle over a request/reply socket.
type Client struct {
	req      *transport.ReqSocket
	deadline time.Duration
}

// Dial connects to the oracle's request/reply channel at addr.
func Dial(addr string, deadline time.Duration) (*Client, error) {
	req, err := transport.DialReq(addr)
	if err != nil {
		return nil, fmt.Errorf("oracleclient: dial %s: %w", addr, err)
	}
	return &Client{req: req, deadline: deadline}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.req.Close() }

type response struct {
	Status   string   `json:"status"`
	Error    string   `json:"error,omitempty"`
	PathList []string `json:"pathlist,omitempty"`
	Users    []string `json:"users,omitempty"`
}

// Subscribers implements watcher.Subscribers, answering "who is watching
// this folder" over the wire.
func (c *Client) Subscribers(folder string) ([]string, error) {
	req := map[string]string{"op": "subscribers", "folder": folder}
	raw, err := c.req.Call(context.Background(), req, c.deadline)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "subscribers", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errkind.New(errkind.SchemaErr, "subscribers", err)
	}
	if resp.Status != "success" {
		return nil, errkind.New(errkind.Transport, "subscribers", fmt.Errorf("%s", resp.Error))
	}
	return resp.Users, nil
}

// UpdateStructure mutates the remote oracle's folder->file index, the
// watcher's call on every create/delete it emits. Satisfies
// watcher.StructureUpdater for out-of-process oracle deployments.
func (c *Client) UpdateStructure(relativePath string, op oracle.StructureOp) error {
	req := map[string]string{"op": "update_structure", "relative_path": relativePath, "structure_op": string(op)}
	raw, err := c.req.Call(context.Background(), req, c.deadline)
	if err != nil {
		return errkind.New(errkind.Transport, "update_structure", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errkind.New(errkind.SchemaErr, "update_structure", err)
	}
	if resp.Status != "success" {
		return errkind.New(errkind.Transport, "update_structure", fmt.Errorf("%s", resp.Error))
	}
	return nil
}

// Authorized returns every relative path userID may access.
func (c *Client) Authorized(userID string) ([]string, error) {
	req := map[string]string{"op": "authorized", "user_id": userID}
	raw, err := c.req.Call(context.Background(), req, c.deadline)
	if err != nil {
		return nil, errkind.New(errkind.Transport, "authorized", err)
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errkind.New(errkind.SchemaErr, "authorized", err)
	}
	if resp.Status != "success" {
		return nil, errkind.New(errkind.Transport, "authorized", fmt.Errorf("%s", resp.Error))
	}
	return resp.PathList, nil
}
