package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

const version = "0.4.0"

// errExit carries an exit code through cobra's error return. Detected
// with errors.As in runCLI.
type errExit int

func (e errExit) Error() string {
	return "exit " + strconv.Itoa(int(e))
}

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(args []string) int {
	rootCmd := &cobra.Command{
		Use:     "hybrid",
		Short:   "Resolve code-change requests into validated unified diffs",
		Version: version,
	}
	rootCmd.PersistentFlags().String("config", "", "Path to hybrid.toml for defaults")
	rootCmd.AddCommand(newSolveCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newPlanCmd())
	rootCmd.AddCommand(newPluginsCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newSelfRepairCmd())
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		var exitErr errExit
		if errors.As(err, &exitErr) {
			return int(exitErr)
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func warn(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "[WARN] "+format+"\n", args...)
}
