package main

import (
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/MrWong99/foglamp/internal/mcptools"
)

func (c *cli) mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve foglamp tools over MCP on stdio",
		RunE:  c.runMCP,
	}
}

func (c *cli) runMCP(cmd *cobra.Command, args []string) error {
	a, _, _, err := c.openApp(cmd)
	if err != nil {
		return err
	}
	defer shutdownQuietly(a)

	server := mcptools.NewServer(a, version)
	return server.Run(cmd.Context(), &sdk.StdioTransport{})
}
