package mcp

import (
	"fmt"
	"log"
)

// logger is the package-level logger. If nil, logging is a no-op.
var logger *log.Logger

// SetLogger sets the logger used by the MCP server package.
func SetLogger(l *log.Logger) {
	logger = l
}

// Log writes a formatted message to the MCP logger. No-op if logger is nil.
// stdout carries the protocol, so nothing here may print.
func Log(format string, args ...any) {
	if logger != nil {
		_ = logger.Output(2, fmt.Sprintf(format, args...))
	}
}
