// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/nbd-wtf/go-nostr"

	"github.com/stacklok/dvmcp/pkg/dvmcp"
	"github.com/stacklok/dvmcp/pkg/logger"
)

// Wire shapes for method params. Results reuse the MCP SDK types, which
// marshal to the protocol's JSON directly.
type callToolParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Meta      *mcp.Meta      `json:"_meta,omitempty"`
}

type readResourceParams struct {
	URI string `json:"uri"`
}

type getPromptParams struct {
	Name      string            `json:"name"`
	Arguments map[string]string `json:"arguments,omitempty"`
}

type completeParams struct {
	Ref      dvmcp.CompletionRef      `json:"ref"`
	Argument dvmcp.CompletionArgument `json:"argument"`
}

type cancelledParams struct {
	RequestID any    `json:"requestId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// decodeParams unmarshals required method params.
func decodeParams[T any](raw json.RawMessage) (T, *dvmcp.RPCError) {
	var params T
	if len(raw) == 0 {
		return params, dvmcp.NewRPCError(dvmcp.CodeInvalidParams, "missing params")
	}
	if err := json.Unmarshal(raw, &params); err != nil {
		return params, dvmcp.NewRPCError(dvmcp.CodeInvalidParams, fmt.Sprintf("invalid params: %v", err))
	}
	return params, nil
}

// dispatch routes a parsed request to its method handler. The method set is
// closed: anything else is answered with method-not-found.
func (r *Router) dispatch(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	switch req.Method {
	case dvmcp.MethodPing:
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, struct{}{}))

	case dvmcp.MethodInitialize:
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, r.opts.Pool.Describe()))

	case dvmcp.MethodToolsList:
		tools, err := r.opts.Pool.ListTools(ctx)
		if err != nil {
			r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
			return
		}
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, mcp.ListToolsResult{Tools: tools}))

	case dvmcp.MethodToolsCall:
		r.handleToolCall(ctx, rctx, req)

	case dvmcp.MethodResourcesList:
		resources, err := r.opts.Pool.ListResources(ctx)
		if err != nil {
			r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
			return
		}
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, mcp.ListResourcesResult{Resources: resources}))

	case dvmcp.MethodResourcesRead:
		r.handleReadResource(ctx, rctx, req)

	case dvmcp.MethodResourcesTemplatesList:
		templates, err := r.opts.Pool.ListResourceTemplates(ctx)
		if err != nil {
			r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
			return
		}
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, mcp.ListResourceTemplatesResult{ResourceTemplates: templates}))

	case dvmcp.MethodPromptsList:
		prompts, err := r.opts.Pool.ListPrompts(ctx)
		if err != nil {
			r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
			return
		}
		r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, mcp.ListPromptsResult{Prompts: prompts}))

	case dvmcp.MethodPromptsGet:
		r.handleGetPrompt(ctx, rctx, req)

	case dvmcp.MethodCompletionComplete:
		r.handleComplete(ctx, rctx, req)

	case dvmcp.MethodNotificationsCancelled:
		r.handleCancelled(ctx, rctx, req)

	default:
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, dvmcp.NewRPCError(
			dvmcp.CodeMethodNotFound, fmt.Sprintf("method %s not implemented", req.Method))))
	}
}

func (r *Router) handleToolCall(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	params, rpcErr := decodeParams[callToolParams](req.Params)
	if rpcErr == nil && params.Name == "" {
		rpcErr = dvmcp.NewRPCError(dvmcp.CodeInvalidParams, "missing tool name")
	}
	if rpcErr != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, rpcErr))
		return
	}
	if !r.settle(ctx, rctx, dvmcp.MethodToolsCall, params.Name) {
		return
	}
	result := r.opts.Pool.CallTool(ctx, params.Name, params.Arguments, params.Meta)
	r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, result))
}

func (r *Router) handleReadResource(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	params, rpcErr := decodeParams[readResourceParams](req.Params)
	if rpcErr == nil && params.URI == "" {
		rpcErr = dvmcp.NewRPCError(dvmcp.CodeInvalidParams, "missing resource uri")
	}
	if rpcErr != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, rpcErr))
		return
	}
	if !r.settle(ctx, rctx, dvmcp.MethodResourcesRead, params.URI) {
		return
	}
	result, err := r.opts.Pool.ReadResource(ctx, params.URI)
	if err != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
		return
	}
	r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, result))
}

func (r *Router) handleGetPrompt(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	params, rpcErr := decodeParams[getPromptParams](req.Params)
	if rpcErr == nil && params.Name == "" {
		rpcErr = dvmcp.NewRPCError(dvmcp.CodeInvalidParams, "missing prompt name")
	}
	if rpcErr != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, rpcErr))
		return
	}
	if !r.settle(ctx, rctx, dvmcp.MethodPromptsGet, params.Name) {
		return
	}
	result, err := r.opts.Pool.GetPrompt(ctx, params.Name, params.Arguments)
	if err != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
		return
	}
	r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, result))
}

func (r *Router) handleComplete(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	params, rpcErr := decodeParams[completeParams](req.Params)
	if rpcErr == nil && params.Ref.Type == "" {
		rpcErr = dvmcp.NewRPCError(dvmcp.CodeInvalidParams, "missing completion ref type")
	}
	if rpcErr != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, rpcErr))
		return
	}
	result, err := r.opts.Pool.Complete(ctx, params.Ref, params.Argument)
	if err != nil {
		r.respond(ctx, rctx, dvmcp.NewErrorResponse(req.ID, providerRPCError(err)))
		return
	}
	r.respond(ctx, rctx, dvmcp.NewResponse(req.ID, result))
}

// handleCancelled acknowledges a cancellation. The contract is best effort:
// nothing is aborted, in-flight provider calls and payment waits run to
// completion on their own timeouts.
func (r *Router) handleCancelled(ctx context.Context, rctx *requestContext, req *dvmcp.Request) {
	var params cancelledParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			logger.Debugf("Ignoring unreadable cancellation params on %s: %v", rctx.eventID, err)
		}
	}
	if params.Reason != "" {
		logger.Debugf("Cancellation received for request %v: %s", params.RequestID, params.Reason)
	}
	if err := r.notify(ctx, rctx, dvmcp.StatusSuccess, nil, "cancellation acknowledged"); err != nil {
		logger.Warnf("Failed to acknowledge cancellation %s: %v", rctx.eventID, err)
	}
}

// settle enforces the price on a capability invocation. It returns false
// when the invocation must not proceed; the caller publishes nothing more,
// every required notification has already gone out.
func (r *Router) settle(ctx context.Context, rctx *requestContext, method, key string) bool {
	price, priced := r.opts.Pool.PriceFor(method, key)
	if !priced || price.Amount <= 0 {
		return true
	}

	// Fail closed: a priced capability without a configured receiver is
	// never executed for free.
	if r.opts.Gate == nil {
		logger.Warnf("Refusing priced capability %s %s for %s: no payment receiver configured", method, key, rctx.eventID)
		r.notifyOrLog(ctx, rctx, dvmcp.StatusError, nil, "payment required but no payment receiver is configured")
		return false
	}

	unit := price.Unit
	if unit == "" {
		unit = dvmcp.UnitSats
	}

	r.notifyOrLog(ctx, rctx, dvmcp.StatusProcessing, nil, "")

	err := r.opts.Gate.Charge(ctx, rctx.eventID, price, func(invoice string, amountSats int64) error {
		tags := nostr.Tags{
			{dvmcp.TagAmount, strconv.FormatInt(amountSats, 10), unit},
			{dvmcp.TagInvoice, invoice},
		}
		return r.notify(ctx, rctx, dvmcp.StatusPaymentRequired, tags, "")
	})
	if err != nil {
		logger.Warnf("Payment failed for request %s (%s %s): %v", rctx.eventID, method, key, err)
		r.notifyOrLog(ctx, rctx, dvmcp.StatusError, nil, err.Error())
		return false
	}

	r.notifyOrLog(ctx, rctx, dvmcp.StatusPaymentAccepted, nil, "")
	return true
}

// respond publishes a JSON-RPC response event correlated to the request.
func (r *Router) respond(ctx context.Context, rctx *requestContext, resp *dvmcp.Response) {
	content, err := dvmcp.MarshalResponse(resp)
	if err != nil {
		logger.Errorf("Failed to marshal response for request %s: %v", rctx.eventID, err)
		return
	}
	tags := nostr.Tags{
		{dvmcp.TagEvent, rctx.eventID},
		{dvmcp.TagPubkey, rctx.sender},
	}
	evt := r.opts.Identity.NewEvent(dvmcp.KindResponse, tags, content)
	if err := r.publish(ctx, rctx, evt); err != nil {
		logger.Warnf("Failed to publish response for request %s: %v", rctx.eventID, err)
	}
}

// notify publishes a status notification correlated to the request.
func (r *Router) notify(ctx context.Context, rctx *requestContext, status string, extra nostr.Tags, message string) error {
	tags := nostr.Tags{
		{dvmcp.TagStatus, status},
		{dvmcp.TagEvent, rctx.eventID},
		{dvmcp.TagPubkey, rctx.sender},
	}
	tags = append(tags, extra...)
	evt := r.opts.Identity.NewEvent(dvmcp.KindNotification, tags, message)
	return r.publish(ctx, rctx, evt)
}

// notifyOrLog is notify for callers with nothing better to do on a publish
// failure than record it.
func (r *Router) notifyOrLog(ctx context.Context, rctx *requestContext, status string, extra nostr.Tags, message string) {
	if err := r.notify(ctx, rctx, status, extra, message); err != nil {
		logger.Warnf("Failed to publish %s notification for request %s: %v", status, rctx.eventID, err)
	}
}

// publish is the single outbound path for responses and notifications. It
// mirrors the sender's transport choice: requests that arrived gift wrapped
// get wrapped replies, plain requests get plain signed events. Publish
// failures are reported, not retried.
func (r *Router) publish(ctx context.Context, rctx *requestContext, evt *nostr.Event) error {
	out := evt
	if rctx.encrypted {
		wrapped, err := r.opts.Wrapper.Wrap(evt, rctx.sender)
		if err != nil {
			return fmt.Errorf("failed to wrap reply for %s: %w", rctx.sender, err)
		}
		out = wrapped
	} else if err := r.opts.Identity.Sign(evt); err != nil {
		return fmt.Errorf("failed to sign reply: %w", err)
	}
	return r.opts.Bus.Publish(ctx, out)
}

// providerRPCError translates pool and provider errors into wire error
// objects.
func providerRPCError(err error) *dvmcp.RPCError {
	switch {
	case errors.Is(err, dvmcp.ErrNotFound):
		return dvmcp.NewRPCError(dvmcp.CodeMethodNotFound, err.Error())
	case errors.Is(err, dvmcp.ErrInvalidInput):
		return dvmcp.NewRPCError(dvmcp.CodeInvalidParams, err.Error())
	case errors.Is(err, dvmcp.ErrUnavailable),
		errors.Is(err, dvmcp.ErrTimeout),
		errors.Is(err, dvmcp.ErrCancelled):
		return dvmcp.NewRPCError(dvmcp.CodeExecutionError, err.Error())
	default:
		return dvmcp.NewRPCError(dvmcp.CodeInternalError, err.Error())
	}
}
