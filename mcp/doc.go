// Package mcp holds the Model Context Protocol wire types and method names
// used by the engine, the transports and tool handlers. It has no transport
// logic of its own.
//
// # Method Names
//
// Request and notification names are Method constants, for example
// ToolsListMethod or CancelledNotificationMethod.
//
// # Versions
//
// SupportedProtocolVersions lists the revisions accepted by initialize,
// newest first. A client proposing anything else is refused.
//
// Example:
//
//	res := &mcp.CallToolResult{
//	    Content: []mcp.ContentBlock{{Type: mcp.ContentTypeText, Text: "hello"}},
//	}
package mcp
