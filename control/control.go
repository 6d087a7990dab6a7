// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package control triggers connection migrations from outside a running
// benchmark side, either over the benchmark's own transport or over HTTP.
package control

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/absmach/lossbench/loss"
	"github.com/absmach/lossbench/migration"
	"github.com/absmach/lossbench/transport"
)

var (
	// ErrRateLimited is returned when a source asks for migrations faster
	// than allowed.
	ErrRateLimited = errors.New("migration rate limit exceeded")

	// ErrNoHandler is returned when a dispatcher is built without a
	// migration handler.
	ErrNoHandler = errors.New("no migration handler")
)

// Runner is a running benchmark side as seen by the control channel.
type Runner interface {
	migration.Handler
	Ready() bool
	Active() transport.Conn
	Progress() loss.Progress
}

// Subject returns the control subject for role.
func Subject(prefix, role string) string {
	return prefix + "." + role
}

// Request asks for a migration to URL. An empty URL targets the default
// server of the transport.
type Request struct {
	URL string `json:"url"`
}

// Response is the outcome of a migration request.
type Response struct {
	OK    bool   `json:"ok"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// ParseRequest accepts a JSON request or the bare target URL.
func ParseRequest(data []byte) (Request, error) {
	body := strings.TrimSpace(string(data))
	if strings.HasPrefix(body, "{") {
		var req Request
		if err := json.Unmarshal([]byte(body), &req); err != nil {
			return Request{}, err
		}
		req.URL = strings.TrimSpace(req.URL)
		return req, nil
	}
	return Request{URL: body}, nil
}

func response(conn transport.Conn, err error) Response {
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{OK: true, URL: conn.URL()}
}
