package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/MyCarrier-DevOps/cadence/internal/domain"
)

// errNoConfigFile is returned by commands that edit the seeds file when
// CADENCE_CONFIG is unset.
var errNoConfigFile = errors.New("no seeds file configured: set CADENCE_CONFIG")

func newInitCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          "init",
		Short:        "Create a default seeds file at CADENCE_CONFIG",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			if deps == nil {
				return errors.New("dependencies not configured")
			}
			cfg, err := seedsFileConfig(deps)
			if err != nil {
				return err
			}
			if err := deps.DocumentInitializer(cfg.ConfigFile); err != nil {
				return err
			}
			_, err = fmt.Fprintf(stdoutOf(deps), "created seeds file %s\n", cfg.ConfigFile)
			return err
		},
	}
}

func newSeedCmd(deps *Dependencies) *cobra.Command {
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Manage the seed repositories",
	}

	var name, branch string
	addCmd := &cobra.Command{
		Use:          "add <uri>",
		Short:        "Add a repository to the seeds file",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, args []string) error {
			if deps == nil {
				return errors.New("dependencies not configured")
			}
			uri := strings.TrimSpace(args[0])
			if uri == "" {
				return errors.New("seed uri must not be empty")
			}
			cfg, err := seedsFileConfig(deps)
			if err != nil {
				return err
			}

			added, err := deps.SeedAdder(cfg.ConfigFile, domain.Seed{URI: uri, Name: name, Branch: branch})
			if err != nil {
				return err
			}
			if !added {
				writeWarningf(stderrOf(deps), "seed %s already exists, leaving %s unchanged\n", uri, cfg.ConfigFile)
				return nil
			}
			_, err = fmt.Fprintf(stdoutOf(deps), "added seed %s\n", uri)
			return err
		},
	}
	addCmd.Flags().StringVar(&name, "name", "", "Repository name (derived from the URI when empty)")
	addCmd.Flags().StringVar(&branch, "branch", "", "Branch to build (defaults to CADENCE_BRANCH)")

	seedCmd.AddCommand(addCmd)
	return seedCmd
}

func newConfigCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:          "config",
		Short:        "Print the resolved settings and seeds",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if deps == nil {
				return errors.New("dependencies not configured")
			}
			cfg, err := deps.ConfigLoader()
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			doc, err := deps.DocumentLoader(commandContext(cmd), cfg)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return printConfig(deps, cfg, doc)
		},
	}
}

// configView is the printed form of the resolved configuration.
type configView struct {
	Settings settingsView   `yaml:"settings"`
	Document *SeedsDocument `yaml:"document"`
}

type settingsView struct {
	Config          string `yaml:"config"`
	WorkDir         string `yaml:"work_dir"`
	LedgerPath      string `yaml:"ledger_path"`
	LedgerTimeout   string `yaml:"ledger_timeout"`
	Script          string `yaml:"script"`
	Branch          string `yaml:"branch"`
	Crawler         string `yaml:"crawler"`
	MetricsTextfile string `yaml:"metrics_textfile,omitempty"`
	LogLevel        string `yaml:"log_level"`
}

func printConfig(deps *Dependencies, cfg *AppConfig, doc *SeedsDocument) error {
	view := configView{
		Settings: settingsView{
			Config:          cfg.ConfigFile,
			WorkDir:         cfg.WorkDir,
			LedgerPath:      cfg.LedgerPath,
			LedgerTimeout:   cfg.LedgerTimeout.String(),
			Script:          cfg.Script,
			Branch:          cfg.Branch,
			Crawler:         string(cfg.Crawler),
			MetricsTextfile: cfg.MetricsTextfile,
			LogLevel:        cfg.LogLevel,
		},
		Document: doc,
	}

	enc := yaml.NewEncoder(stdoutOf(deps))
	enc.SetIndent(2)
	if err := enc.Encode(view); err != nil {
		return fmt.Errorf("output error: %w", err)
	}
	return enc.Close()
}

func seedsFileConfig(deps *Dependencies) (*AppConfig, error) {
	cfg, err := deps.ConfigLoader()
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if cfg.ConfigFile == "" {
		return nil, errNoConfigFile
	}
	return cfg, nil
}
