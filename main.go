package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ByteMirror/clawdcommit/cmd"
	"github.com/ByteMirror/clawdcommit/commands"
	"github.com/ByteMirror/clawdcommit/config"
	"github.com/ByteMirror/clawdcommit/git"
	"github.com/ByteMirror/clawdcommit/log"
	"github.com/ByteMirror/clawdcommit/telemetry"
	"github.com/ByteMirror/clawdcommit/ui"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	dirFlag            string
	programFlag        string
	copyFlag           bool
	commitFlag         bool
	traceFlag          string
	analysisModelFlag  string
	synthesisModelFlag string
	singleModelFlag    string
	thresholdFlag      int
	concurrencyFlag    int
	noFileContextFlag  bool

	rootCmd = &cobra.Command{
		Use:   "clawdcommit",
		Short: "clawdcommit - Write a commit message for the staged changes with Claude",
		Long: `clawdcommit reads the staged diff of the current repository and asks the
claude CLI for a commit message. Small change sets are sent in one call; large
ones are analyzed file by file in parallel and then summarized.

The message is printed to stdout. Progress and errors go to stderr.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			log.Initialize(false)
			defer log.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if traceFlag != "" {
				shutdown, err := startTracing(traceFlag)
				if err != nil {
					return err
				}
				defer shutdown()
			}

			return runGenerate(ctx, cmd)
		},
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths and the configuration used for the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}

			cfg := config.LoadConfig()
			fmt.Printf("Config: %s\n", filepath.Join(configDir, config.ConfigFileName))
			if repo, err := git.Open(workDir()); err == nil {
				cfg = config.LoadForRepo(repo.Root())
				fmt.Printf("Repository: %s\n", repo.Root())
			}
			applyFlags(cmd, cfg)
			configJson, _ := json.MarshalIndent(cfg, "", "  ")
			fmt.Printf("%s\n", configJson)
			if programPath, err := config.GetProgramPath(cfg.Program); err != nil {
				fmt.Printf("Program: %v\n", err)
			} else {
				fmt.Printf("Program: %s\n", programPath)
			}
			fmt.Printf("Log: %s (debug logging: %v)\n", log.FileName(), log.IsDebugEnabled())
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of clawdcommit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("clawdcommit version %s\n", version)
		},
	}
)

func runGenerate(ctx context.Context, cmd *cobra.Command) error {
	term := ui.NewTerminal(os.Stderr)
	term.Start("Generating commit message...")
	gen, err := commands.Generate(ctx, commands.GenerateOptions{
		Dir:      workDir(),
		Override: func(cfg *config.Config) { applyFlags(cmd, cfg) },
		Progress: term,
		Reporter: term,
	})
	term.Done()

	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		term.Warn("Cancelled.")
		return shownError{err}
	case errors.Is(err, commands.ErrNoStagedChanges), errors.Is(err, commands.ErrEmptyResponse):
		term.Warn(err.Error())
		return shownError{err}
	default:
		term.ReportError(err.Error())
		return shownError{err}
	}

	fmt.Println(gen.Message)

	if copyFlag {
		if err := clipboard.WriteAll(gen.Message); err != nil {
			term.ReportError(fmt.Sprintf("Failed to copy to clipboard: %v", err))
		} else {
			term.Success("Copied to clipboard.")
		}
	}

	if commitFlag {
		summary, err := gen.Repo.Commit(ctx, gen.Message)
		if err != nil {
			term.ReportError(err.Error())
			return shownError{err}
		}
		term.Success(summary)
	}
	return nil
}

// shownError marks an error the terminal has already displayed.
type shownError struct{ error }

func (e shownError) Unwrap() error { return e.error }

func isReported(err error) bool {
	var shown shownError
	return errors.As(err, &shown)
}

// applyFlags copies explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("program") {
		cfg.Program = programFlag
	}
	if flags.Changed("analysis-model") {
		cfg.AnalysisModel = analysisModelFlag
	}
	if flags.Changed("synthesis-model") {
		cfg.SynthesisModel = synthesisModelFlag
	}
	if flags.Changed("model") {
		cfg.SingleCallModel = singleModelFlag
	}
	if flags.Changed("threshold") {
		cfg.ParallelFileThreshold = thresholdFlag
	}
	if flags.Changed("concurrency") {
		cfg.MaxConcurrentAgents = concurrencyFlag
	}
	if noFileContextFlag {
		cfg.IncludeFileContext = false
	}
	cfg.Validate()
}

func workDir() string {
	if dirFlag != "" {
		return dirFlag
	}
	return "."
}

// startTracing writes spans to path until the returned func is called.
func startTracing(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace file: %w", err)
	}
	p, err := telemetry.Setup(f, version)
	if err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.Shutdown(ctx); err != nil {
			log.WarningLog.Printf("failed to flush traces: %v", err)
		}
		f.Close()
	}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&dirFlag, "dir", "C", "", "Run as if started in this directory")
	rootCmd.PersistentFlags().StringVarP(&programFlag, "program", "p", "", "Agent CLI to run (default from config: claude)")

	rootCmd.Flags().BoolVarP(&copyFlag, "copy", "c", false, "Copy the message to the clipboard")
	rootCmd.Flags().BoolVar(&commitFlag, "commit", false, "Commit the staged changes with the generated message")
	rootCmd.Flags().StringVar(&traceFlag, "trace", "", "Write OpenTelemetry spans as JSON to this file")
	rootCmd.Flags().StringVar(&analysisModelFlag, "analysis-model", "", "Model for per-file analysis agents")
	rootCmd.Flags().StringVar(&synthesisModelFlag, "synthesis-model", "", "Model for the synthesis agent")
	rootCmd.Flags().StringVarP(&singleModelFlag, "model", "m", "", "Model for single-call generation")
	rootCmd.Flags().IntVar(&thresholdFlag, "threshold", 0, "Staged file count at which per-file analysis is used")
	rootCmd.Flags().IntVarP(&concurrencyFlag, "concurrency", "j", 0, "Maximum number of agents running at once")
	rootCmd.Flags().BoolVar(&noFileContextFlag, "no-file-context", false, "Do not send full staged file contents")

	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cmd.MCPCommand(version))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) && !isReported(err) {
			fmt.Fprintln(os.Stderr, err)
		}
		if errors.Is(err, context.Canceled) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}
