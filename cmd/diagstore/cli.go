package main

import (
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var outputFormats = []string{"table", "json", "yaml"}

// CLI is a Viper-driven command line front end for diagstore documents
type CLI struct {
	rootCmd   *cobra.Command
	viperInst *viper.Viper
	logger    *slog.Logger
	logFile   io.Closer
}

// NewCLI creates a CLI with its configuration sources and commands set up
func NewCLI() *CLI {
	cli := &CLI{
		viperInst: viper.New(),
		logger:    slog.New(slog.DiscardHandler),
	}

	cli.setupViperConfig()
	cli.createRootCommand()
	cli.addCommands()

	return cli
}

// Execute runs the command tree and releases the log file afterwards
func (cli *CLI) Execute() error {
	defer cli.closeLog()
	return cli.rootCmd.Execute()
}

// setupViperConfig configures Viper with environment variables and config files
func (cli *CLI) setupViperConfig() {
	// DIAGSTORE_CONFIG names a config file explicitly
	if configFile := os.Getenv("DIAGSTORE_CONFIG"); configFile != "" {
		cli.viperInst.SetConfigFile(configFile)
	} else {
		cli.viperInst.SetConfigName("diagstore")
		cli.viperInst.SetConfigType("json")
		cli.viperInst.AddConfigPath(".")
		cli.viperInst.AddConfigPath("$HOME/.diagstore")
	}

	cli.viperInst.AutomaticEnv()
	cli.viperInst.SetEnvPrefix("DIAGSTORE")

	// --log-level -> DIAGSTORE_LOG_LEVEL
	cli.viperInst.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	// Read config file if it exists (ignore errors)
	_ = cli.viperInst.ReadInConfig()
}

// createRootCommand creates the root Cobra command with Viper integration
func (cli *CLI) createRootCommand() {
	cli.rootCmd = &cobra.Command{
		Use:   "diagstore",
		Short: "diagstore - diagram documents with undo and redo",
		Long: `diagstore edits diagram documents stored as JSON files. Every command runs
as one transaction, so each change can be undone and redone later, even
from another process: the undo history is saved with the document.

Configuration Sources (in order of precedence):
1. Command line flags
2. Environment variables (DIAGSTORE_*)
3. Configuration files (custom path or default locations)

Configuration File Discovery:
  DIAGSTORE_CONFIG=/path/to/config.json  # Custom config file path
  ./diagstore.json                       # Current directory
  ~/.diagstore/diagstore.json            # User directory

Examples:
  # Create two nodes and move one of them
  diagstore -f flow.json create node --text Start --pos 0,0
  diagstore -f flow.json create node --text End --pos 100,0
  diagstore -f flow.json move 1 10,0 20,0 30,0

  # Step back and forth through the history
  diagstore -f flow.json history
  diagstore -f flow.json undo
  diagstore -f flow.json redo

  # Environment variables
  export DIAGSTORE_FILE=flow.json DIAGSTORE_FORMAT=yaml
  diagstore list`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			format := cli.viperInst.GetString("format")
			if !slices.Contains(outputFormats, format) {
				return NewValidationError(cmd.Name(), "output format", format,
					"Use one of: "+strings.Join(outputFormats, ", "),
					CommonSuggestions.CheckConfig)
			}
			return cli.initLogging(
				cli.viperInst.GetString("log-level"),
				cli.viperInst.GetBool("verbose"),
				cmd.ErrOrStderr())
		},
	}

	cli.addGlobalFlags()
}

// addGlobalFlags adds persistent flags that apply to all commands
func (cli *CLI) addGlobalFlags() {
	flags := cli.rootCmd.PersistentFlags()

	flags.StringP("file", "f", "", "Document file path (required for most commands)")
	flags.String("format", "table", "Output format (table|json|yaml)")
	flags.String("log-level", "warn", "Log level (debug|info|warn|error)")
	flags.Bool("property-history", false, "Record per-property history items instead of whole entity snapshots")
	flags.Bool("dry-run", false, "Show the result without writing the document")
	flags.BoolP("verbose", "v", false, "Mirror log output to stderr")

	envVars := map[string]string{
		"file":             "FILE",
		"format":           "FORMAT",
		"log-level":        "LOG_LEVEL",
		"property-history": "PROPERTY_HISTORY",
		"dry-run":          "DRY_RUN",
		"verbose":          "VERBOSE",
	}

	for key, envVar := range envVars {
		_ = cli.viperInst.BindPFlag(key, flags.Lookup(key))
		_ = cli.viperInst.BindEnv(key, "DIAGSTORE_"+envVar)
	}
}

// addCommands adds the document commands
func (cli *CLI) addCommands() {
	// Meta commands (no document needed)
	cli.addKindsCommand()

	// Editing
	cli.addCreateCommand()
	cli.addDeleteCommand()
	cli.addSetCommand()
	cli.addMoveCommand()

	// Inspection
	cli.addListCommand()
	cli.addShowCommand()
	cli.addValidateCommand()

	// History
	cli.addUndoCommand()
	cli.addRedoCommand()
	cli.addHistoryCommand()
}
