// Package mcptools exposes the turn engine as Model Context Protocol tools so
// an MCP client can play turns and curate memory.
package mcptools

import (
	"context"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/foglamp/internal/app"
)

// Server serves foglamp tools over an MCP transport.
type Server struct {
	app *app.App
	mcp *sdk.Server
}

// NewServer registers every tool against a.
func NewServer(a *app.App, version string) *Server {
	s := &Server{
		app: a,
		mcp: sdk.NewServer(&sdk.Implementation{
			Name:    "foglamp",
			Version: version,
		}, nil),
	}
	s.registerTools()
	return s
}

// Run serves on transport until ctx is done or the client disconnects.
func (s *Server) Run(ctx context.Context, transport sdk.Transport) error {
	return s.mcp.Run(ctx, transport)
}
