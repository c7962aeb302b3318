package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.1.0"

// defaultInstruction is used when no instruction is given on the command line.
const defaultInstruction = "If a file named TASKS.md exists in the working directory, read it carefully and complete the tasks it describes. Otherwise, please do nothing."

var (
	cfgFile  string
	logLevel string
	fresh    bool
	resume   bool
)

// rootCmd runs the agents when called without a subcommand
var rootCmd = &cobra.Command{
	Use:   "triad [instruction] [context-url]",
	Short: "Triad - manager, worker and QA agents working one instruction",
	Long: `Triad runs a worker agent that operates local tools, a manager agent that
plans its sessions and a QA agent that decides when the instruction goal has
been achieved. Progress is checkpointed and can be resumed.

Press Ctrl+C once to pause at the next safe point, twice to abort.`,
	Args:          cobra.MaximumNArgs(2),
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	RunE:          runAgents,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.triad/triad.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.Flags().BoolVar(&fresh, "fresh", false, "discard saved progress and start over")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "continue from saved progress without asking")
	rootCmd.MarkFlagsMutuallyExclusive("fresh", "resume")

	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}
