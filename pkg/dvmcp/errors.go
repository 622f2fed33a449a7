// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package dvmcp

import "errors"

// Common domain errors used across dvmcp subpackages.
// These errors should be checked using errors.Is().

var (
	// ErrNotFound indicates a requested capability (tool, resource, prompt)
	// was not found in any provider's registry.
	// Wrapping errors should provide specific details about what was not found.
	ErrNotFound = errors.New("not found")

	// ErrNoProviders indicates the pool holds no connected providers.
	ErrNoProviders = errors.New("no providers available")

	// ErrUnavailable indicates a provider connection is unavailable.
	// Wrapping errors should include the underlying transport failure.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrTimeout indicates an operation timed out.
	// Wrapping errors should include the operation type and timeout duration.
	ErrTimeout = errors.New("operation timed out")

	// ErrCancelled indicates an operation was cancelled.
	// Context cancellation should wrap this error with context.Cause().
	ErrCancelled = errors.New("operation cancelled")

	// ErrUnauthorized indicates the sender is not on the allow-list.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPaymentRequired indicates a priced capability was invoked and the
	// matching proof of payment never arrived.
	ErrPaymentRequired = errors.New("payment required")

	// ErrInvalidInput indicates invalid input parameters.
	// Wrapping errors should specify which parameter is invalid and why.
	ErrInvalidInput = errors.New("invalid input")
)
