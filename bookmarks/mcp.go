package bookmarks

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/xharvest/kit"
)

// RegisterMCP registers the bookmarks tools on an MCP server:
// bookmarks_browser, bookmarks_collect, bookmarks_extract and
// bookmarks_import.
func (a *Adapter) RegisterMCP(srv *mcp.Server) {
	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "bookmarks_browser",
		Description: "Check the browser is reachable and list its tabs, marking the one used for ingestion.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, a.browserEndpoint(), kit.JSONArgs[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "bookmarks_collect",
		Description: "Scroll the bookmarks feed and return every item reference found, with why collection stopped.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, a.collectEndpoint(), kit.JSONArgs[struct{}]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "bookmarks_extract",
		Description: "Open one post and return its content as a seed, thread parts included.",
		InputSchema: inputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Direct post URL (.../status/<id>)"},
		}, []string{"url"}),
	}, a.extractEndpoint(), kit.JSONArgs[ExtractRequest]())

	kit.RegisterMCPTool(srv, &mcp.Tool{
		Name:        "bookmarks_import",
		Description: "Collect the feed, extract every item not yet processed and deliver the seeds to the configured sinks.",
		InputSchema: inputSchema(map[string]any{}, nil),
	}, a.importEndpoint(), kit.JSONArgs[struct{}]())
}

func inputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
