package api

import (
	"time"

	"synscope/scanner"
)

// Task lifecycle states.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// ScanTask represents a scanning job managed by the API service.
type ScanTask struct {
	// ID is the immutable identifier of the scan task (UUID v4).
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Immutable UUIDv4 identifier assigned when the task is accepted. Reuse it when polling."`
	// Status reflects the asynchronous lifecycle state of the task.
	Status string `json:"status" enums:"pending,running,completed,failed" example:"pending" description:"pending: queued. running: probes in flight. completed: report attached. failed: see error."`
	// Target is the IPv4 address or host name that gets probed.
	Target string `json:"target" example:"192.0.2.10" description:"IPv4 literal or host name resolving to an IPv4 address."`
	// Ports is the port specification exactly as submitted.
	Ports string `json:"ports" example:"22,80,443,8000-8100" description:"Comma separated single ports and inclusive ranges. Invalid tokens are ignored and duplicates dropped."`
	// TimeoutSeconds is the per-probe reply timeout.
	TimeoutSeconds float64 `json:"timeout" example:"0.1" description:"Seconds to wait for a reply to each SYN, between 0 and 100."`
	// Workers bounds the number of probes in flight.
	Workers int `json:"workers" example:"50" description:"Maximum number of concurrent probes."`
	// Report becomes populated once the task completes.
	Report *scanner.ScanReport `json:"report,omitempty" description:"Per-port results in the order the ports were requested. Present once the task is completed."`
	// CreatedAt records when the task was created.
	CreatedAt time.Time `json:"created_at" format:"date-time" example:"2024-01-02T15:04:05Z" description:"Timestamp (UTC, RFC3339) when the API accepted the scan request."`
	// CompletedAt is set once the task transitions to a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty" format:"date-time" example:"2024-01-02T15:06:30Z" description:"Timestamp (UTC, RFC3339) when the task finished. Empty while pending or running."`
	// Error contains context when a task fails.
	Error string `json:"error,omitempty" example:"no valid ports to scan" description:"Why the task entered the failed status."`
}

// CreateScanRequest is the payload for creating new scan tasks.
type CreateScanRequest struct {
	// Target is the host to probe.
	Target string `json:"target" binding:"required" example:"192.0.2.10" description:"IPv4 address or host name. IPv6 is not supported."`
	// Ports expresses the desired port selection using comma-separated values and ranges.
	Ports string `json:"ports" binding:"required" example:"22,80,443,8000-8100" description:"Single ports and inclusive ranges separated by commas. Must yield at least one port in 1-65535."`
	// Timeout overrides the default per-probe timeout in seconds.
	Timeout *float64 `json:"timeout,omitempty" binding:"omitempty,gte=0,lte=100" example:"0.5" description:"Per-probe timeout in seconds, 0-100. Defaults to SCAN_TIMEOUT."`
	// Workers overrides the default probe concurrency.
	Workers int `json:"workers,omitempty" binding:"omitempty,min=1,max=1024" example:"100" description:"Maximum concurrent probes. Defaults to SCAN_WORKERS."`
}

// ScanAcceptedResponse captures the asynchronous acknowledgement returned after job submission.
type ScanAcceptedResponse struct {
	// ID mirrors the queued task identifier returned to clients for polling.
	ID string `json:"id" format:"uuid" example:"a3f5c62e-1234-4f72-a84a-1c2d3e4f5678" description:"Identifier to supply to GET /scans/{id}."`
	// Status is always pending immediately after acceptance.
	Status string `json:"status" enums:"pending" example:"pending" description:"Initial queue state assigned to every newly accepted scan request."`
}

// HealthResponse is returned by the health probe.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// ErrorResponse provides a consistent structure for API error payloads.
type ErrorResponse struct {
	// Error is a human-readable explanation of why the request failed.
	Error string `json:"error" example:"task not found" description:"Human readable error message describing why the request was rejected."`
}
