// Package main is the entry point for shimd, the IPC port manager and
// helper loop process.
//
// shimd multiplexes a set of byte-stream ports (TCP or TLS) through a
// single helper loop, correlating request/response pairs by sequence
// number and fanning broadcasts out to every port matching a role mask.
// It exposes an administrative HTTP/WebSocket surface for inspecting and
// driving the registry from outside the process.
//
// Configuration:
//   - Environment variables (12-factor), optionally overlaid on a YAML
//     config file
//   - CLI flags (override env vars)
//   - Defaults for development
//
// Usage:
//
//	./shimd -listen tcp://0.0.0.0:9500 -admin :8000
//
// Signals:
//   - SIGINT, SIGTERM: graceful shutdown (ExitWithHelper, then TerminateHelper)
package main
