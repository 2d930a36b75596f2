package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/torrentnode/torrentnode/internal/api"
	"github.com/torrentnode/torrentnode/internal/domain"
)

func init() {
	taskCmd.Flags().StringVar(&taskType, "type", "", "Task type: "+kindList())
	taskCmd.Flags().StringVar(&taskData, "data", "", "Task payload as JSON")
	taskCmd.Flags().StringVar(&taskCodeFile, "code", "", "File with the WebAssembly module (custom tasks)")
	taskCmd.Flags().StringVar(&taskReward, "reward", domain.Amount(domain.DefaultReward).String(), "Reward in tokens")
	taskCmd.Flags().IntVar(&taskTimeout, "timeout", domain.DefaultTimeout, "Execution timeout in seconds")
	taskCmd.Flags().IntVar(&taskMaxMemory, "max-memory", domain.DefaultMaxMemoryMB, "Memory cap in MB")
	taskCmd.Flags().BoolVar(&taskWait, "wait", false, "Wait for the result")
	taskCmd.Flags().DurationVar(&taskWaitFor, "wait-timeout", 5*time.Minute, "How long --wait blocks")
	_ = taskCmd.MarkFlagRequired("type")
	_ = taskCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(taskCmd)
}

var (
	taskType      string
	taskData      string
	taskCodeFile  string
	taskReward    string
	taskTimeout   int
	taskMaxMemory int
	taskWait      bool
	taskWaitFor   time.Duration
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Distribute a task through the running node",
	Long: `Build, sign and publish a task through the running node. Any peer in
the swarm may execute it; with --wait the command blocks until the signed
result comes back. Run "torrentnode examples" for ready-made payloads.`,
	Args: cobra.NoArgs,
	RunE: runTask,
}

func runTask(cmd *cobra.Command, args []string) error {
	spec, err := buildTaskSpec()
	if err != nil {
		return err
	}

	client, err := apiClient(0)
	if err != nil {
		return err
	}

	req := api.TaskRequest{TaskSpec: spec}
	if taskWait {
		req.Wait = true
		req.WaitSeconds = int(taskWaitFor.Seconds())
	}

	resp, err := client.SubmitTask(cmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Printf("Task published\n")
	fmt.Printf("  ID:       %s\n", resp.Task.TaskID)
	fmt.Printf("  Type:     %s\n", resp.Task.Kind)
	fmt.Printf("  Reward:   %s\n", resp.Task.Reward.Fixed())
	fmt.Printf("  Content:  %s\n", resp.Task.ContentID)

	if resp.Result != nil {
		printResult(*resp.Result)
	}
	return nil
}

func buildTaskSpec() (domain.TaskSpec, error) {
	kind, err := domain.ParseTaskKind(taskType)
	if err != nil {
		return domain.TaskSpec{}, fmt.Errorf("%w: %w (want one of %s)", domain.ErrValidation, err, kindList())
	}
	if !json.Valid([]byte(taskData)) {
		return domain.TaskSpec{}, fmt.Errorf("%w: --data is not valid JSON", domain.ErrValidation)
	}
	reward, err := domain.ParseAmount(taskReward)
	if err != nil {
		return domain.TaskSpec{}, err
	}

	spec := domain.TaskSpec{
		Kind:        kind,
		Data:        json.RawMessage(taskData),
		Reward:      &reward,
		Timeout:     taskTimeout,
		MaxMemoryMB: taskMaxMemory,
	}
	if taskCodeFile != "" {
		code, err := os.ReadFile(taskCodeFile)
		if err != nil {
			return domain.TaskSpec{}, fmt.Errorf("read code: %w", err)
		}
		spec.Code = string(code)
	}

	// Catch local mistakes before touching the node.
	if _, err := domain.NewTask(spec, time.Now()); err != nil {
		return domain.TaskSpec{}, err
	}
	return spec, nil
}

func printResult(env domain.ResultEnvelope) {
	res := env.Result
	fmt.Printf("\nResult from %s\n", env.Executor)
	if res.Success {
		fmt.Printf("  Status:   success\n")
		fmt.Printf("  Value:    %s\n", res.Result)
	} else {
		fmt.Printf("  Status:   failed (%s)\n", res.ErrorKind)
		fmt.Printf("  Error:    %s\n", res.Error)
	}
	fmt.Printf("  Time:     %.3fs\n", res.ExecutionTime)
	if res.MemoryUsed > 0 {
		fmt.Printf("  Memory:   %s\n", humanBytes(res.MemoryUsed))
	}
}

func kindList() string {
	names := make([]string, len(domain.TaskKinds))
	for i, k := range domain.TaskKinds {
		names[i] = string(k)
	}
	return strings.Join(names, ", ")
}
