// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// TagValue returns the value of the first tag with the given name, or ""
// when the event carries no such tag.
func TagValue(evt *nostr.Event, name string) string {
	for _, t := range evt.Tags {
		if len(t) >= 2 && t[0] == name {
			return t[1]
		}
	}
	return ""
}

// TagValues returns the values of every tag with the given name, in order.
func TagValues(evt *nostr.Event, name string) []string {
	var vals []string
	for _, t := range evt.Tags {
		if len(t) >= 2 && t[0] == name {
			vals = append(vals, t[1])
		}
	}
	return vals
}

// HasTag reports whether the event carries at least one tag with the
// given name, regardless of value.
func HasTag(evt *nostr.Event, name string) bool {
	for _, t := range evt.Tags {
		if len(t) >= 1 && t[0] == name {
			return true
		}
	}
	return false
}

// EventAddress renders the "kind:pubkey:identifier" coordinate used in "a"
// tags to reference addressable events such as announcements.
func EventAddress(kind int, pubkey, identifier string) string {
	return fmt.Sprintf("%d:%s:%s", kind, pubkey, identifier)
}
