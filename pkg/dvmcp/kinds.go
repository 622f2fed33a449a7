// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp

// Nostr event kinds used by the DVMCP protocol.
const (
	// KindRequest is an ephemeral client-to-server JSON-RPC request.
	KindRequest = 25910

	// KindResponse is an ephemeral server-to-client JSON-RPC response.
	KindResponse = 26910

	// KindNotification is an ephemeral out-of-band status update
	// (processing, payment-required, error, ...).
	KindNotification = 21316

	// KindGiftWrap is a NIP-59 gift wrap carrying an encrypted seal.
	KindGiftWrap = 1059

	// KindSeal is the NIP-59 inner seal signed by the real sender.
	KindSeal = 13

	// KindZapRequest is a NIP-57 zap request embedded in LNURL invoice fetches.
	KindZapRequest = 9734

	// KindZapReceipt is a NIP-57 proof-of-payment published by the
	// receiver's Lightning service once an invoice settles.
	KindZapReceipt = 9735

	// KindRelayList is a NIP-65 relay list metadata event.
	KindRelayList = 10002

	// KindDeletion is a NIP-09 deletion request, used to retract
	// announcements on shutdown.
	KindDeletion = 5

	// KindServerAnnouncement advertises a DVMCP server and its metadata.
	KindServerAnnouncement = 31316

	// KindToolsList advertises the server's aggregated tool list.
	KindToolsList = 31317

	// KindResourcesList advertises the server's aggregated resource list.
	KindResourcesList = 31318

	// KindPromptsList advertises the server's aggregated prompt list.
	KindPromptsList = 31319
)

// Tag names used on DVMCP events.
const (
	TagMethod            = "method"
	TagEvent             = "e"
	TagPubkey            = "p"
	TagStatus            = "status"
	TagAmount            = "amount"
	TagInvoice           = "invoice"
	TagIdentifier        = "d"
	TagServer            = "s"
	TagKind              = "k"
	TagBolt11            = "bolt11"
	TagRelays            = "relays"
	TagRelay             = "r"
	TagCapability        = "cap"
	TagAddress           = "a"
	TagName              = "name"
	TagAbout             = "about"
	TagPicture           = "picture"
	TagWebsite           = "website"
	TagSupportEncryption = "support_encryption"
)

// JSON-RPC methods understood by the bridge. The dispatch table is a closed
// set; anything else earns a method-not-found error.
const (
	MethodPing                   = "ping"
	MethodInitialize             = "initialize"
	MethodToolsList              = "tools/list"
	MethodToolsCall              = "tools/call"
	MethodResourcesList          = "resources/list"
	MethodResourcesRead          = "resources/read"
	MethodResourcesTemplatesList = "resources/templates/list"
	MethodPromptsList            = "prompts/list"
	MethodPromptsGet             = "prompts/get"
	MethodCompletionComplete     = "completion/complete"
	MethodNotificationsCancelled = "notifications/cancelled"
)

// Status values carried on notification events.
const (
	StatusProcessing      = "processing"
	StatusPaymentRequired = "payment-required"
	StatusPaymentAccepted = "payment-accepted"
	StatusError           = "error"
	StatusSuccess         = "success"
)

// UnitSats is the default pricing unit when a price list omits one.
const UnitSats = "sats"

// ProtocolVersion is the capability protocol revision the bridge speaks.
const ProtocolVersion = "2025-03-26"
