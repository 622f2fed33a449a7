// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp_test

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
)

func TestTagHelpers(t *testing.T) {
	t.Parallel()

	evt := &nostr.Event{
		Kind: dvmcp.KindRequest,
		Tags: nostr.Tags{
			{"method", "tools/call"},
			{"p", "abc123"},
			{"p", "def456"},
			{"relays"},
			{"s"},
		},
	}

	assert.Equal(t, "tools/call", dvmcp.TagValue(evt, "method"))
	assert.Equal(t, "abc123", dvmcp.TagValue(evt, "p"), "first match wins")
	assert.Equal(t, "", dvmcp.TagValue(evt, "missing"))
	assert.Equal(t, "", dvmcp.TagValue(evt, "s"), "tag without value")

	assert.Equal(t, []string{"abc123", "def456"}, dvmcp.TagValues(evt, "p"))
	assert.Nil(t, dvmcp.TagValues(evt, "missing"))

	assert.True(t, dvmcp.HasTag(evt, "relays"), "value-less tag still counts")
	assert.False(t, dvmcp.HasTag(evt, "invoice"))
}

func TestEventAddress(t *testing.T) {
	t.Parallel()

	addr := dvmcp.EventAddress(dvmcp.KindServerAnnouncement, "pubkey123", "server-1")
	assert.Equal(t, "31316:pubkey123:server-1", addr)
}
