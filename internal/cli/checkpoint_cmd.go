package cli

import (
	"fmt"

	"github.com/harun/triad/pkg/checkpoint"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or clear saved progress",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the saved checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointShow,
}

var checkpointClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the saved checkpoint",
	Args:  cobra.NoArgs,
	RunE:  runCheckpointClear,
}

func init() {
	checkpointCmd.AddCommand(checkpointShowCmd, checkpointClearCmd)
	rootCmd.AddCommand(checkpointCmd)
}

func checkpointStore() (*checkpoint.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Checkpoint.Enabled {
		return nil, fmt.Errorf("checkpoints are disabled")
	}
	return checkpoint.NewStore(cfg.Checkpoint.Path, zerolog.Nop()), nil
}

func runCheckpointShow(cmd *cobra.Command, args []string) error {
	store, err := checkpointStore()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	cp := store.Load()
	if cp == nil {
		if store.Exists() {
			fmt.Fprintf(out, "Checkpoint at %s is unusable\n", store.Path())
			return nil
		}
		fmt.Fprintln(out, "No saved progress")
		return nil
	}

	fmt.Fprintf(out, "Path: %s\n", store.Path())
	fmt.Fprintf(out, "Saved: %s\n", cp.SavedAt.Format("2006-01-02 15:04:05 MST"))
	if cp.RunID != "" {
		fmt.Fprintf(out, "Run: %s\n", cp.RunID)
	}
	fmt.Fprintf(out, "Session: %d\n", cp.Session+1)
	fmt.Fprintf(out, "Step: %d\n", cp.Step+1)
	fmt.Fprintf(out, "Messages: %d\n", len(cp.Messages))
	fmt.Fprintf(out, "Instruction: %s\n", cp.Instruction)
	return nil
}

func runCheckpointClear(cmd *cobra.Command, args []string) error {
	store, err := checkpointStore()
	if err != nil {
		return err
	}
	if err := store.Remove(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Checkpoints removed.")
	return nil
}
