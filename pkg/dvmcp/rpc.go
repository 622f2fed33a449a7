// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes used on the wire.
const (
	// CodeParseError indicates the request content was not valid JSON.
	CodeParseError = -32700

	// CodeInvalidRequest indicates the message was structurally not a
	// valid JSON-RPC request.
	CodeInvalidRequest = -32600

	// CodeMethodNotFound indicates an unknown method or a capability that
	// no provider exposes.
	CodeMethodNotFound = -32601

	// CodeInvalidParams indicates the params did not match the method.
	CodeInvalidParams = -32602

	// CodeExecutionError indicates a provider reported a failure while
	// executing an otherwise well-formed request.
	CodeExecutionError = -32000

	// CodeInternalError indicates an unexpected failure inside the bridge.
	CodeInternalError = -32603
)

// JSONRPCVersion is the fixed "jsonrpc" field value.
const JSONRPCVersion = "2.0"

// Request is a JSON-RPC 2.0 request or notification carried as event content.
// Params stays raw so each method handler can decode its own shape.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification reports whether the request carries no id and therefore
// expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

// Response is a JSON-RPC 2.0 response carried as event content. Exactly one
// of Result and Error is set.
type Response struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// RPCError is the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// NewRPCError builds an RPCError with the given code and message.
func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

// NewResponse builds a success response for the given request id.
func NewResponse(id any, result any) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

// NewErrorResponse builds an error response for the given request id.
func NewErrorResponse(id any, rpcErr *RPCError) *Response {
	return &Response{JSONRPC: JSONRPCVersion, ID: id, Error: rpcErr}
}

// ParseRequest decodes the JSON-RPC request carried in event content.
// It distinguishes malformed JSON (parse error) from a structurally invalid
// message (invalid request) so callers can answer with the right code.
func ParseRequest(content []byte) (*Request, *RPCError) {
	var req Request
	if err := json.Unmarshal(content, &req); err != nil {
		return nil, NewRPCError(CodeParseError, fmt.Sprintf("parse error: %v", err))
	}
	if req.JSONRPC != "" && req.JSONRPC != JSONRPCVersion {
		return nil, NewRPCError(CodeInvalidRequest, fmt.Sprintf("unsupported jsonrpc version %q", req.JSONRPC))
	}
	if req.Method == "" {
		return nil, NewRPCError(CodeInvalidRequest, "missing method")
	}
	return &req, nil
}

// MarshalResponse renders a response as event content.
func MarshalResponse(resp *Response) (string, error) {
	out, err := json.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("failed to marshal response: %w", err)
	}
	return string(out), nil
}
