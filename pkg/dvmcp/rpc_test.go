// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
)

func TestParseRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		content    string
		expectCode int
		method     string
	}{
		{
			name:    "valid request",
			content: `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`,
			method:  "tools/list",
		},
		{
			name:    "valid request with params",
			content: `{"jsonrpc":"2.0","id":"abc","method":"tools/call","params":{"name":"echo"}}`,
			method:  "tools/call",
		},
		{
			name:    "notification without id",
			content: `{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":1}}`,
			method:  "notifications/cancelled",
		},
		{
			name:       "malformed json",
			content:    `{"jsonrpc":"2.0",`,
			expectCode: dvmcp.CodeParseError,
		},
		{
			name:       "not an object",
			content:    `"just a string"`,
			expectCode: dvmcp.CodeParseError,
		},
		{
			name:       "missing method",
			content:    `{"jsonrpc":"2.0","id":1}`,
			expectCode: dvmcp.CodeInvalidRequest,
		},
		{
			name:       "wrong jsonrpc version",
			content:    `{"jsonrpc":"1.0","id":1,"method":"ping"}`,
			expectCode: dvmcp.CodeInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req, rpcErr := dvmcp.ParseRequest([]byte(tt.content))

			if tt.expectCode != 0 {
				require.Nil(t, req)
				require.NotNil(t, rpcErr)
				assert.Equal(t, tt.expectCode, rpcErr.Code)
				return
			}

			require.Nil(t, rpcErr)
			require.NotNil(t, req)
			assert.Equal(t, tt.method, req.Method)
		})
	}
}

func TestRequestIsNotification(t *testing.T) {
	t.Parallel()

	req, rpcErr := dvmcp.ParseRequest([]byte(`{"jsonrpc":"2.0","method":"notifications/cancelled"}`))
	require.Nil(t, rpcErr)
	assert.True(t, req.IsNotification())

	req, rpcErr = dvmcp.ParseRequest([]byte(`{"jsonrpc":"2.0","id":0,"method":"ping"}`))
	require.Nil(t, rpcErr)
	assert.False(t, req.IsNotification(), "id 0 is still an id")
}

func TestMarshalResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		resp     *dvmcp.Response
		expected string
	}{
		{
			name:     "success result",
			resp:     dvmcp.NewResponse(float64(7), map[string]any{"ok": true}),
			expected: `{"jsonrpc":"2.0","id":7,"result":{"ok":true}}`,
		},
		{
			name:     "error result",
			resp:     dvmcp.NewErrorResponse("req-1", dvmcp.NewRPCError(dvmcp.CodeMethodNotFound, "no such method")),
			expected: `{"jsonrpc":"2.0","id":"req-1","error":{"code":-32601,"message":"no such method"}}`,
		},
		{
			name:     "null id for unparseable request",
			resp:     dvmcp.NewErrorResponse(nil, dvmcp.NewRPCError(dvmcp.CodeParseError, "parse error")),
			expected: `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			out, err := dvmcp.MarshalResponse(tt.resp)
			require.NoError(t, err)
			assert.JSONEq(t, tt.expected, out)
		})
	}
}

func TestRPCErrorError(t *testing.T) {
	t.Parallel()

	err := dvmcp.NewRPCError(dvmcp.CodeExecutionError, "tool exploded")
	assert.Contains(t, err.Error(), "-32000")
	assert.Contains(t, err.Error(), "tool exploded")
}

func TestCapabilityFlagsCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		flags    dvmcp.CapabilityFlags
		expected int
	}{
		{"none", dvmcp.CapabilityFlags{}, 0},
		{"tools only", dvmcp.CapabilityFlags{Tools: true}, 1},
		{"tools and prompts", dvmcp.CapabilityFlags{Tools: true, Prompts: true}, 2},
		{"all", dvmcp.CapabilityFlags{Tools: true, Resources: true, Prompts: true, Completions: true}, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, tt.flags.Count())
		})
	}
}

func TestInitializeResultJSON(t *testing.T) {
	t.Parallel()

	result := dvmcp.InitializeResult{
		ProtocolVersion: dvmcp.ProtocolVersion,
		Capabilities: dvmcp.ServerCapabilities{
			Tools:       &dvmcp.ListChangedCapability{},
			Completions: &dvmcp.CompletionsCapability{},
		},
		ServerInfo:   dvmcp.Implementation{Name: "bridge", Version: "1.0.0"},
		Instructions: "use the tools",
	}

	out, err := json.Marshal(result)
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"protocolVersion": "2025-03-26",
		"capabilities": {"tools": {}, "completions": {}},
		"serverInfo": {"name": "bridge", "version": "1.0.0"},
		"instructions": "use the tools"
	}`, string(out))
}
