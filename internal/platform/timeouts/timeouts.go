// Package timeouts defines shared timeout constants used across the lab.
package timeouts

import "time"

// OracleCall caps a single scenario, evaluation, or hint request.
const OracleCall = 30 * time.Second

// StepResponse is the reference per-step response deadline.
const StepResponse = 90 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// StorageWrite caps a single background write to the lab store.
const StorageWrite = 5 * time.Second
