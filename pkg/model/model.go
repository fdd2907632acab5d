// Package model defines the storage-friendly records produced by an
// inspection run: HTTP/2 transactions and protocol findings, without raw
// bytes.
package model

import "time"

// Transaction is one request/response exchange observed on an HTTP/2
// stream, flattened to its HTTP/1-shaped view.
type Transaction struct {
	ID      int64  `json:"id"`
	FlowKey string `json:"flow_key"`

	RequestLine  string `json:"request_line"`
	ResponseLine string `json:"response_line,omitempty"`

	Method    string `json:"method,omitempty"`
	Authority string `json:"authority,omitempty"`
	Path      string `json:"path,omitempty"`
	Status    int    `json:"status,omitempty"`

	RequestBodyBytes  int `json:"request_body_bytes"`
	ResponseBodyBytes int `json:"response_body_bytes"`

	Pushed bool `json:"pushed,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// Event is one protocol finding, flattened for persistence.
type Event struct {
	ID       int64  `json:"id"`
	FlowKey  string `json:"flow_key"`
	Side     string `json:"side"`
	Code     string `json:"code"`
	Severity string `json:"severity"`

	Timestamp time.Time `json:"timestamp"`
}
