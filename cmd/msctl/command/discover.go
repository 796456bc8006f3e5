package command

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ikarusms/internal/microservices/discovery"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find the broker on the local network",
	Long: `Broadcast a "hello" datagram on the discovery port and print the endpoint
of the broker that answers first.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint, err := discovery.Discover(cmd.Context(), discoveryConfig())
		if err != nil {
			color.Red("✗ %v", err)
			return err
		}
		color.Green("✓ broker at %s", endpoint)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}
