package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RepoFileNames are the per-repository override files, in lookup order.
var RepoFileNames = []string{".clawdcommit.yml", ".clawdcommit.yaml"}

// RepoOverride holds settings a repository pins for everyone committing to it.
// Nil fields leave the user configuration untouched. The agent executable is
// not among them: only the user configuration and flags choose what runs.
type RepoOverride struct {
	AnalysisModel         *string `yaml:"analysisModel,omitempty"`
	SynthesisModel        *string `yaml:"synthesisModel,omitempty"`
	SingleCallModel       *string `yaml:"singleCallModel,omitempty"`
	ParallelFileThreshold *int    `yaml:"parallelFileThreshold,omitempty"`
	MaxConcurrentAgents   *int    `yaml:"maxConcurrentAgents,omitempty"`
	IncludeFileContext    *bool   `yaml:"includeFileContext,omitempty"`
}

// LoadRepoOverride reads .clawdcommit.yml or .clawdcommit.yaml from dir.
// Returns an empty override (not an error) if neither file exists.
func LoadRepoOverride(dir string) (*RepoOverride, error) {
	for _, name := range RepoFileNames {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var o RepoOverride
		if err := yaml.Unmarshal(data, &o); err != nil {
			return nil, err
		}
		return &o, nil
	}
	return &RepoOverride{}, nil
}

// Apply copies every set field onto cfg.
func (o *RepoOverride) Apply(cfg *Config) {
	if o.AnalysisModel != nil {
		cfg.AnalysisModel = *o.AnalysisModel
	}
	if o.SynthesisModel != nil {
		cfg.SynthesisModel = *o.SynthesisModel
	}
	if o.SingleCallModel != nil {
		cfg.SingleCallModel = *o.SingleCallModel
	}
	if o.ParallelFileThreshold != nil {
		cfg.ParallelFileThreshold = *o.ParallelFileThreshold
	}
	if o.MaxConcurrentAgents != nil {
		cfg.MaxConcurrentAgents = *o.MaxConcurrentAgents
	}
	if o.IncludeFileContext != nil {
		cfg.IncludeFileContext = *o.IncludeFileContext
	}
}
