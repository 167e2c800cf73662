// Package stdio implements a single-connection MCP transport over
// stdin/stdout. It is intended for running the server as a subprocess of an
// MCP client.
//
// Characteristics
//
//	Connection model : 1 process <-> 1 client
//	Auth             : OS user (lightweight implicit principal)
//	Sessions         : one in-memory connection for the process lifetime
//	Transport        : newline-delimited JSON-RPC
//
// stdout carries protocol frames only; log to stderr.
//
// Example:
//
//	reg := mcpservice.NewRegistry()
//	// register tools ...
//	eng := engine.New(reg, engine.WithServerInfo(mcp.ImplementationInfo{Name: "mcp-atlassian", Version: "0.1.0"}))
//	h := stdio.NewHandler(eng)
//	if err := h.Serve(ctx); err != nil { log.Fatal(err) }
package stdio
