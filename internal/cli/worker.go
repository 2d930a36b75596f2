package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/sandbox"
)

func init() {
	rootCmd.AddCommand(workerCmd)
}

// workerCmd is the sandbox worker the executor launches per task. It reads
// one task on stdin and writes one result on stdout.
var workerCmd = &cobra.Command{
	Use:    sandbox.WorkerSubcommand,
	Short:  "Run one task in the sandbox (internal)",
	Hidden: true,
	Args:   cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(sandbox.RunWorker(os.Stdin, os.Stdout))
	},
}
