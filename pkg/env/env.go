// SPDX-FileCopyrightText: Copyright 2026 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package env provides an abstraction for reading environment variables,
// allowing for dependency injection in tests.
package env

import "os"

// Reader reads environment variables.
type Reader interface {
	// Getenv retrieves the value of the environment variable named by the key.
	// It returns the value, which will be empty if the variable is not present.
	Getenv(key string) string
}

// OSReader reads environment variables from the operating system.
type OSReader struct{}

// Getenv retrieves the value of the environment variable from the OS.
func (*OSReader) Getenv(key string) string {
	return os.Getenv(key)
}

// MapReader reads environment variables from a fixed map. It is intended
// for tests.
type MapReader struct {
	Env map[string]string
}

// Getenv retrieves the value of the environment variable from the map.
func (m *MapReader) Getenv(key string) string {
	return m.Env[key]
}
