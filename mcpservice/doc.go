// Package mcpservice holds what a server advertises and how its handlers are
// invoked.
//
// A Registry collects tool and resource registrations during startup and is
// sealed by the engine before the first connection is accepted. Handlers
// never see protocol framing: tools receive their raw argument object and
// return a CallToolResult, and every failure, including a panic, is turned
// into a HandlerError whose message is safe to show a client.
//
// Quick start:
//
//	type EchoArgs struct {
//	    Message string `json:"message" jsonschema:"description=Text to echo"`
//	}
//
//	reg := mcpservice.NewRegistry()
//	reg.MustRegister(mcpservice.NewTool[EchoArgs]("echo",
//	    func(ctx context.Context, w mcpservice.ToolResponseWriter, r *mcpservice.ToolRequest[EchoArgs]) error {
//	        return w.AppendText("you said: " + r.Args().Message)
//	    },
//	    mcpservice.WithToolDescription("Echo a message back to the caller"),
//	))
package mcpservice
