package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/raven-betanet/objkit/internal/binary"
	"github.com/raven-betanet/objkit/internal/utils"
)

// errChecksFailed makes the process exit non-zero without printing a second
// error after the report.
var errChecksFailed = errors.New("one or more checks failed")

func main() {
	if err := newRootCmd(&app{fs: afero.NewOsFs()}).Execute(); err != nil {
		if !errors.Is(err, errChecksFailed) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand once flags are parsed.
type app struct {
	fs afero.Fs

	configFile   string
	quiet        bool
	verbose      bool
	force        bool
	outputFormat string

	cfg     *utils.Config
	logger  *utils.Logger
	factory *binary.Factory
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "objkit",
		Short: "Inspect and rewrite ELF, PE and Mach-O binaries",
		Long: `objkit reads executable images in the ELF, PE and Mach-O formats, including
universal (fat) Mach-O files, through one object model.

It can:
- Print headers, sections, segments and symbols
- Patch bytes at a virtual address
- Strip Mach-O code signatures and grow Mach-O segments
- List and extract the slices of a universal binary
- Run inspection checks for common hardening flags

Output is available as text tables, JSON or YAML.`,
		Version:       utils.GetVersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "Configuration file path")
	cmd.PersistentFlags().BoolVarP(&a.quiet, "quiet", "q", false, "Disable diagnostic output")
	cmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose output")
	cmd.PersistentFlags().StringVarP(&a.outputFormat, "format", "f", "text", "Output format (text, json, yaml)")
	cmd.PersistentFlags().BoolVar(&a.force, "force", false, "Overwrite existing output files")

	cmd.AddCommand(newInfoCmd(a))
	cmd.AddCommand(newSectionsCmd(a))
	cmd.AddCommand(newSymbolsCmd(a))
	cmd.AddCommand(newPatchCmd(a))
	cmd.AddCommand(newUnsignCmd(a))
	cmd.AddCommand(newExtendCmd(a))
	cmd.AddCommand(newFatCmd(a))
	cmd.AddCommand(newCheckCmd(a))
	cmd.AddCommand(newVersionCmd(a))

	return cmd
}

// setup loads configuration, then builds the logger and the factory.
func (a *app) setup(cmd *cobra.Command) error {
	switch a.outputFormat {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output format: %s", a.outputFormat)
	}

	// config loading reports through a warn-level logger until the
	// configured one exists
	manager := utils.NewConfigManager()
	manager.SetLogger(a.newLogger(cmd, utils.LoggerConfig{Level: utils.LogLevelWarn}))
	if err := manager.LoadConfig(a.configFile); err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	a.cfg = manager.GetConfig()

	a.logger = a.newLogger(cmd, utils.LoggerConfig{
		Level:  utils.LogLevel(a.cfg.LogLevel),
		Format: utils.LogFormat(a.cfg.LogFormat),
	})

	if a.force {
		a.cfg.Write.Overwrite = true
	}
	factory, err := binary.FromConfig(a.cfg, a.logger, binary.WithFS(a.fs))
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.factory = factory
	return nil
}

// newLogger writes to the command's stderr and honors --verbose and --quiet.
func (a *app) newLogger(cmd *cobra.Command, config utils.LoggerConfig) *utils.Logger {
	config.Output = cmd.ErrOrStderr()
	if a.verbose {
		config.Level = utils.LogLevelDebug
	}
	logger := utils.NewLogger(config)
	if a.quiet {
		logger.Disable()
	}
	return logger
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := utils.GetBuildInfo()
			return a.render(cmd, info, func(w io.Writer) {
				fmt.Fprintf(w, "objkit version %s\n", info.Version)
				fmt.Fprintf(w, "Commit: %s\n", info.Commit)
				fmt.Fprintf(w, "Built: %s\n", info.Date)
				fmt.Fprintf(w, "Go: %s %s\n", info.GoVersion, info.Platform)
			})
		},
	}
}
