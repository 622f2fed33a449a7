// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
)

func TestNewLNURLReceiver_AddressValidation(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		address string
		wantErr bool
	}{
		{name: "valid address", address: "alice@example.com", wantErr: false},
		{name: "surrounding whitespace", address: "  alice@example.com  ", wantErr: false},
		{name: "missing domain", address: "alice@", wantErr: true},
		{name: "missing user", address: "@example.com", wantErr: true},
		{name: "no separator", address: "alice.example.com", wantErr: true},
		{name: "empty", address: "", wantErr: true},
	}

	for _, tc := range testCases {
		tc := tc // Capture range variable
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewLNURLReceiver(tc.address)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// newTestReceiver points a receiver for alice@example.com at a local server.
func newTestReceiver(t *testing.T, serverURL string) *lnurlReceiver {
	t.Helper()
	r, err := NewLNURLReceiver("alice@example.com")
	require.NoError(t, err)

	lr, ok := r.(*lnurlReceiver)
	require.True(t, ok)
	lr.wellKnownURL = func(_, user string) string {
		return serverURL + "/.well-known/lnurlp/" + user
	}
	return lr
}

func TestLNURLReceiver_Invoice(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{
			"callback": %q,
			"minSendable": 1000,
			"maxSendable": 100000000,
			"allowsNostr": true,
			"nostrPubkey": "ab"
		}`, server.URL+"/callback?session=abc")
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "abc", r.URL.Query().Get("session"), "existing callback query params survive")
		assert.Equal(t, "21000", r.URL.Query().Get("amount"))

		var zap nostr.Event
		require.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("nostr")), &zap))
		assert.Equal(t, dvmcp.KindZapRequest, zap.Kind)

		fmt.Fprint(w, `{"pr": "lnbc210n1fakeinvoice"}`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	receiver := newTestReceiver(t, server.URL)
	invoice, err := receiver.Invoice(context.Background(), 21, &nostr.Event{Kind: dvmcp.KindZapRequest})
	require.NoError(t, err)
	assert.Equal(t, "lnbc210n1fakeinvoice", invoice)
}

func TestLNURLReceiver_Invoice_NoZapSupport(t *testing.T) {
	t.Parallel()

	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"callback": %q, "allowsNostr": false}`, server.URL+"/callback")
	})
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("nostr"), "zap requests are withheld from receivers that reject them")
		fmt.Fprint(w, `{"pr": "lnbc1plain"}`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	receiver := newTestReceiver(t, server.URL)
	invoice, err := receiver.Invoice(context.Background(), 21, &nostr.Event{Kind: dvmcp.KindZapRequest})
	require.NoError(t, err)
	assert.Equal(t, "lnbc1plain", invoice)
}

func TestLNURLReceiver_ReceiptPubkey(t *testing.T) {
	t.Parallel()

	t.Run("zap support advertised", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"callback": "https://x.invalid/cb", "allowsNostr": true, "nostrPubkey": "ab12"}`)
		}))
		defer server.Close()

		pubkey, err := newTestReceiver(t, server.URL).ReceiptPubkey(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "ab12", pubkey)
	})

	t.Run("no zap support", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"callback": "https://x.invalid/cb", "nostrPubkey": "ab12"}`)
		}))
		defer server.Close()

		pubkey, err := newTestReceiver(t, server.URL).ReceiptPubkey(context.Background())
		require.NoError(t, err)
		assert.Empty(t, pubkey)
	})
}

func TestLNURLReceiver_Invoice_AmountOutOfBounds(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"callback": "https://unreachable.invalid/cb", "minSendable": 100000, "maxSendable": 200000}`)
	}))
	defer server.Close()

	receiver := newTestReceiver(t, server.URL)

	_, err := receiver.Invoice(context.Background(), 21, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "below the receiver's minimum")

	_, err = receiver.Invoice(context.Background(), 10000, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "above the receiver's maximum")
}

func TestLNURLReceiver_Invoice_EndpointErrors(t *testing.T) {
	t.Parallel()

	t.Run("error status from well-known", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status": "ERROR", "reason": "address blocked"}`)
		}))
		defer server.Close()

		_, err := newTestReceiver(t, server.URL).Invoice(context.Background(), 21, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "address blocked")
	})

	t.Run("error status from callback", func(t *testing.T) {
		t.Parallel()

		var server *httptest.Server
		mux := http.NewServeMux()
		mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `{"callback": %q}`, server.URL+"/callback")
		})
		mux.HandleFunc("/callback", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{"status": "ERROR", "reason": "node offline"}`)
		})
		server = httptest.NewServer(mux)
		defer server.Close()

		_, err := newTestReceiver(t, server.URL).Invoice(context.Background(), 21, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "node offline")
	})

	t.Run("missing invoice", func(t *testing.T) {
		t.Parallel()

		var server *httptest.Server
		mux := http.NewServeMux()
		mux.HandleFunc("/.well-known/lnurlp/alice", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprintf(w, `{"callback": %q}`, server.URL+"/callback")
		})
		mux.HandleFunc("/callback", func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, `{}`)
		})
		server = httptest.NewServer(mux)
		defer server.Close()

		_, err := newTestReceiver(t, server.URL).Invoice(context.Background(), 21, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no invoice")
	})

	t.Run("http error status", func(t *testing.T) {
		t.Parallel()

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		_, err := newTestReceiver(t, server.URL).Invoice(context.Background(), 21, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unexpected status 404")
	})
}
