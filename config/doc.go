// Package config handles application configuration loading and management.
//
// Configuration is stored in ~/.clawdcommit/config.json and holds the agent
// program, the per-phase models, and the limits that decide when and how wide
// the map/reduce pipeline fans out. A repository can pin its own values in
// .clawdcommit.yml at its root.
package config
