package command

// root.go defines the msctl root command and the configuration shared by the
// subcommands.

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"ikarusms/internal/config"
	"ikarusms/internal/logger"
	"ikarusms/internal/microservices/discovery"
)

var (
	cfg       *config.Config
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "msctl",
	Short: "msctl - master/slave synchronization toolkit",
	Long: `msctl talks to a running broker. It can:
- find the broker on the local network
- run a demo master or slave node
- show which masters and slaves are logged in

Settings come from the environment or a .env file (MS_* and LOG_* keys).`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded
		logCloser = logger.Init(logger.Config{
			Level:      cfg.LogLevel,
			Format:     cfg.LogFormat,
			FilePath:   cfg.LogFile,
			MaxSize:    cfg.LogFileMaxSizeMB,
			MaxBackups: cfg.LogFileMaxBackups,
			MaxAge:     cfg.LogFileMaxAgeDays,
		})
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logCloser != nil {
			return logCloser.Close()
		}
		return nil
	},
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func discoveryConfig() discovery.ClientConfig {
	return discovery.ClientConfig{
		Broadcast: cfg.DiscoveryBroadcast,
		Port:      cfg.DiscoveryPort,
		Timeout:   cfg.DiscoveryTimeout,
	}
}
