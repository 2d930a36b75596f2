package cli

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/torrentnode/torrentnode/internal/daemon"
)

func init() {
	startCmd.Flags().IntVar(&startPort, "port", 0, "Swarm listen port (overrides config)")
	startCmd.Flags().StringArrayVar(&startBootstrap, "bootstrap", nil, "Bootstrap peer multiaddr (repeatable)")
	startCmd.Flags().BoolVar(&startNoDHT, "no-dht", false, "Disable the Kademlia DHT")
	startCmd.Flags().IntVar(&startMaxPeers, "max-peers", 0, "Maximum connected peers (overrides config)")
	startCmd.Flags().IntVar(&startAPIPort, "api-port", 0, "Control API port (overrides config)")
	startCmd.Flags().BoolVarP(&startVerbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.AddCommand(startCmd)
}

var (
	startPort      int
	startBootstrap []string
	startNoDHT     bool
	startMaxPeers  int
	startAPIPort   int
	startVerbose   bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a node and join the swarm",
	Long: `Start a node: join the swarm, execute announced tasks for rewards and
serve the local control API used by the task, connect and peers commands.
Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyStartFlags(cmd, &cfg)

	// First start leaves an editable config behind.
	if _, err := os.Stat(filepath.Join(cfg.Node.DataDir, "config.toml")); errors.Is(err, os.ErrNotExist) {
		if err := daemon.SaveConfig(cfg); err != nil {
			return err
		}
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return err
	}
	defer d.Close()

	log.Info("starting node",
		zap.String("node_id", d.Identity.NodeID),
		zap.String("data_dir", cfg.Node.DataDir),
		zap.Int("port", cfg.Network.Port),
		zap.Bool("dht", cfg.Network.EnableDHT),
	)
	return d.Serve(cmd.Context())
}

// applyStartFlags overrides config values with the flags actually given.
func applyStartFlags(cmd *cobra.Command, cfg *daemon.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Network.Port = startPort
	}
	if flags.Changed("bootstrap") {
		cfg.Network.Bootstrap = append(cfg.Network.Bootstrap, startBootstrap...)
	}
	if startNoDHT {
		cfg.Network.EnableDHT = false
	}
	if flags.Changed("max-peers") {
		cfg.Network.MaxPeers = startMaxPeers
	}
	if flags.Changed("api-port") {
		cfg.API.Port = startAPIPort
	}
	if startVerbose {
		cfg.Logging.Level = "debug"
	}
}
