package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/domain"
)

func init() {
	rootCmd.AddCommand(examplesCmd)
}

var examplesCmd = &cobra.Command{
	Use:   "examples",
	Short: "Show example tasks for every task type",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		for _, ex := range taskExamples {
			fmt.Printf("%s: %s\n", ex.kind, ex.about)
			fmt.Printf("  torrentnode task --type %s --data '%s' --reward %s\n\n", ex.kind, ex.data, ex.reward)
		}
		fmt.Println("custom: run a WebAssembly module (WAT text or base64 binary)")
		fmt.Println("  torrentnode task --type custom --code add.wat --data '{\"entry\":\"run\",\"args\":[2,3]}' --reward 5")
	},
}

type taskExample struct {
	kind   domain.TaskKind
	about  string
	data   string
	reward string
}

var taskExamples = []taskExample{
	{domain.KindSum, "add a list of numbers", `[10, 20, 30, 40]`, "5"},
	{domain.KindMultiply, "multiply a list of numbers", `[2, 3, 7]`, "5"},
	{domain.KindSort, "sort numbers or strings", `[5, 3, 9, 1]`, "5"},
	{domain.KindHash, "SHA-256 of a string", `"hello swarm"`, "5"},
	{domain.KindFactorial, "exact n!", `20`, "8"},
	{domain.KindPrimeCheck, "trial-division primality", `1000003`, "8"},
	{domain.KindMatrixMultiply, "multiply two matrices", `{"a": [[1, 2], [3, 4]], "b": [[5, 6], [7, 8]]}`, "15"},
	{domain.KindTextAnalysis, "word and character statistics", `"the quick brown fox jumps over the lazy dog"`, "10"},
}
