// Package domain defines the core types for espdeploy, the ESP8266 deployment and
// validation tool.
//
// The types here are plain values shared by the discovery, device, serial and
// orchestration packages. Nothing in this package performs I/O.
//
// # Addresses and Probes
//
// NetworkAddress is an immutable IPv4 address plus port (80 unless stated).
// ProbeResult records one reachability attempt against an address and is never
// mutated after creation.
//
// # Devices
//
// DeviceRecord holds what a confirmed device reported about itself through its
// status endpoint. A record exists only after identity confirmation; fields the
// device did not report keep their zero value.
//
// # Functional Tests
//
// TestResult aggregates the endpoint matrix run against a confirmed device.
// IsFullyFunctional is derived from ping, main page and status results only.
//
// # Uploads
//
// UploadSession tracks one file push over the serial link. Its state only moves
// forward, bytes sent only grow, and it reaches Completed or Failed exactly once.
//
// # Reports
//
// Report collects the staged outcome of one orchestration run.
//
// # Errors
//
// The error taxonomy (ConnectivityError, IdentityMismatchError, ProtocolError,
// ToolchainError, TimeoutError, ConfigurationError) classifies failures so the
// orchestrator can decide between aborting the run and reporting a stage failure.
package domain
