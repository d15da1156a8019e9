package cmd

import (
	"fmt"
	"os"

	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/mcp"

	"github.com/spf13/cobra"
)

// MCPCommand creates the command that serves the MCP tools on stdio.
func MCPCommand(version string) *cobra.Command {
	var repoDir string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve commit message generation as an MCP stdio server",
		Long: `Run an MCP server on stdin/stdout exposing two tools:
  - get_staged_changes: list the staged files of a repository
  - generate_commit_message: write (and optionally commit) a message for them

Register it with an MCP client, for example:
  claude mcp add clawdcommit -- clawdcommit mcp`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunMCPServer(version, repoDir)
		},
	}
	cmd.Flags().StringVarP(&repoDir, "repo", "r", "", "Default repository when a tool call gives no repo_path (default: working directory)")
	return cmd
}

// RunMCPServer serves until the client disconnects. Logs go to the log file
// only, since stdout carries the protocol.
func RunMCPServer(version, repoDir string) error {
	log.Initialize(true)
	defer log.Close()
	mcp.SetLogger(log.InfoLog)

	if repoDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		repoDir = wd
	}

	srv := mcp.NewServer(version, repoDir, nil)
	if err := srv.Serve(); err != nil {
		log.ErrorLog.Printf("mcp server stopped: %v", err)
		return err
	}
	return nil
}
