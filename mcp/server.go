// Package mcp exposes commit message generation as an MCP stdio tool server.
package mcp

import (
	"context"

	"github.com/ByteMirror/clawdcommit/commands"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

const serverInstructions = "clawdcommit writes git commit messages for staged changes. " +
	"Stage the changes first, then call generate_commit_message with the repository path. " +
	"Use get_staged_changes to see which files are staged before generating. " +
	"Large change sets are analyzed file by file, so generation can take a while; " +
	"cancelling the request stops every running agent."

// GenerateFunc produces a commit message. commands.Generate satisfies it.
type GenerateFunc func(ctx context.Context, opts commands.GenerateOptions) (*commands.Generation, error)

// Server wraps an MCP server with the commit message tools.
type Server struct {
	server     *mcpserver.MCPServer
	generate   GenerateFunc
	defaultDir string
}

// NewServer creates a server whose tools fall back to defaultDir when the
// caller gives no repository path.
func NewServer(version, defaultDir string, generate GenerateFunc) *Server {
	if generate == nil {
		generate = commands.Generate
	}
	s := mcpserver.NewMCPServer(
		"clawdcommit",
		version,
		mcpserver.WithInstructions(serverInstructions),
	)
	srv := &Server{server: s, generate: generate, defaultDir: defaultDir}
	srv.registerTools()
	Log("server created: default repo %s", defaultDir)
	return srv
}

func (s *Server) registerTools() {
	getStaged := gomcp.NewTool("get_staged_changes",
		gomcp.WithDescription(
			"List the files currently staged in the repository with their change type and "+
				"added/removed line counts. Binary files are flagged.",
		),
		gomcp.WithString("repo_path",
			gomcp.Description("Any directory inside the repository. Defaults to the server's working directory."),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	s.server.AddTool(getStaged, handleGetStagedChanges(s.defaultDir))

	generate := gomcp.NewTool("generate_commit_message",
		gomcp.WithDescription(
			"Generate a commit message for the staged changes by running Claude over the diff. "+
				"Returns the message text. Set commit to true to also create the commit.",
		),
		gomcp.WithString("repo_path",
			gomcp.Description("Any directory inside the repository. Defaults to the server's working directory."),
		),
		gomcp.WithBoolean("commit",
			gomcp.Description("Create the commit with the generated message."),
		),
	)
	s.server.AddTool(generate, handleGenerateCommitMessage(s.generate, s.defaultDir))
}

// Serve runs the server on stdin/stdout until the client disconnects.
func (s *Server) Serve() error {
	return mcpserver.ServeStdio(s.server)
}
