package config

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ByteMirror/clawdcommit/log"
)

const ConfigFileName = "config.json"

// GetConfigDir returns the path to the application's configuration directory
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get config home directory: %w", err)
	}
	return filepath.Join(homeDir, ".clawdcommit"), nil
}

// Config represents the application configuration
type Config struct {
	// Program is the agent CLI invoked for every analysis and synthesis call.
	Program string `json:"program"`
	// AnalysisModel is the model used by the per-file analysis agents.
	AnalysisModel string `json:"analysis_model"`
	// SynthesisModel is the model used by the agent combining per-file analyses.
	SynthesisModel string `json:"synthesis_model"`
	// SingleCallModel is the model used when the whole diff goes to one agent.
	SingleCallModel string `json:"single_call_model"`
	// ParallelFileThreshold is the staged file count at which the map/reduce
	// pipeline replaces the single call.
	ParallelFileThreshold int `json:"parallel_file_threshold"`
	// MaxConcurrentAgents caps the agents running at the same time.
	MaxConcurrentAgents int `json:"max_concurrent_agents"`
	// IncludeFileContext sends the full staged content of each file alongside its diff.
	IncludeFileContext bool `json:"include_file_context"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Program:               "claude",
		AnalysisModel:         "haiku",
		SynthesisModel:        "sonnet",
		SingleCallModel:       "sonnet",
		ParallelFileThreshold: 4,
		MaxConcurrentAgents:   5,
		IncludeFileContext:    true,
	}
}

// Validate clamps numeric settings to usable values and fills empty strings
// with defaults.
func (c *Config) Validate() {
	def := DefaultConfig()
	if c.Program == "" {
		c.Program = def.Program
	}
	if c.AnalysisModel == "" {
		c.AnalysisModel = def.AnalysisModel
	}
	if c.SynthesisModel == "" {
		c.SynthesisModel = def.SynthesisModel
	}
	if c.SingleCallModel == "" {
		c.SingleCallModel = def.SingleCallModel
	}
	if c.ParallelFileThreshold < 1 {
		c.ParallelFileThreshold = 1
	}
	if c.MaxConcurrentAgents < 1 {
		c.MaxConcurrentAgents = 1
	}
}

// LoadConfig loads the configuration from disk. If it cannot be done, we return the default configuration.
func LoadConfig() *Config {
	configDir, err := GetConfigDir()
	if err != nil {
		log.ErrorLog.Printf("failed to get config directory: %v", err)
		return DefaultConfig()
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Create and save default config if file doesn't exist
			defaultCfg := DefaultConfig()
			if saveErr := saveConfig(defaultCfg); saveErr != nil {
				log.WarningLog.Printf("failed to save default config: %v", saveErr)
			}
			return defaultCfg
		}

		log.WarningLog.Printf("failed to get config file: %v", err)
		return DefaultConfig()
	}

	// Fields missing from the file keep their defaults.
	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		log.ErrorLog.Printf("failed to parse config file: %v", err)
		return DefaultConfig()
	}
	config.Validate()

	return config
}

// LoadForRepo loads the user configuration and applies the repository's
// .clawdcommit.yml overrides on top of it.
func LoadForRepo(repoRoot string) *Config {
	cfg := LoadConfig()
	override, err := LoadRepoOverride(repoRoot)
	if err != nil {
		log.WarningLog.Printf("ignoring repository config in %s: %v", repoRoot, err)
		return cfg
	}
	override.Apply(cfg)
	cfg.Validate()
	return cfg
}

// saveConfig saves the configuration to disk
func saveConfig(config *Config) error {
	configDir, err := GetConfigDir()
	if err != nil {
		return fmt.Errorf("failed to get config directory: %w", err)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	configPath := filepath.Join(configDir, ConfigFileName)
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return atomicWriteFile(configPath, data, 0644)
}

// GetProgramPath resolves program against PATH.
func GetProgramPath(program string) (string, error) {
	path, err := exec.LookPath(program)
	if err != nil {
		return "", fmt.Errorf("%s command not found: %w", program, err)
	}
	return path, nil
}
