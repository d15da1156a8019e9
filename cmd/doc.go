// Package cmd provides cobra command constructors shared by the clawdcommit
// binaries.
package cmd
