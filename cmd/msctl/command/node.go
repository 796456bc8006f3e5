package command

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ikarusms/internal/engine"
	"ikarusms/internal/syncclient"
	"ikarusms/internal/tracker"
)

var (
	sharedDomains  []string
	sharedCommands []string
	putCommands    []string
	handleCommands []string
)

var masterCmd = &cobra.Command{
	Use:   "master <id>",
	Short: "Run a demo master node",
	Long: `Run a master node on an in-memory engine. Commands given with --put are
issued once at start; the node reports when a slave has cleared them.

Press Ctrl+C to log out and stop.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, tr := newState()
		node, err := syncclient.NewMaster(args[0], tr, nodeOptions()...)
		if err != nil {
			return err
		}

		for _, c := range putCommands {
			tr.PutCommand(c, true)
		}
		pending := append([]string(nil), putCommands...)
		watcher := engine.NewCallbackPlugin("command-watcher", tr, func(m engine.Mutator) {
			remaining := pending[:0]
			for _, c := range pending {
				if m.HasCommand(c) {
					remaining = append(remaining, c)
					continue
				}
				color.Green("✓ %s was handled", c)
			}
			pending = remaining
		})

		return runNode(cmd.Context(), node, mem, watcher)
	},
}

var slaveCmd = &cobra.Command{
	Use:   "slave <id> <master-id>",
	Short: "Run a demo slave node",
	Long: `Run a slave node on an in-memory engine. Commands named with --handle are
cleared as soon as the master issues them.

Press Ctrl+C to log out and stop.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mem, tr := newState()
		node, err := syncclient.NewSlave(args[0], args[1], tr, nodeOptions()...)
		if err != nil {
			return err
		}

		handler := engine.NewCallbackPlugin("command-handler", tr, func(m engine.Mutator) {
			for _, c := range handleCommands {
				if m.HasCommand(c) {
					color.Cyan("handled %s", c)
					m.ClearCommand(c)
				}
			}
		})

		return runNode(cmd.Context(), node, mem, handler)
	},
}

func init() {
	for _, c := range []*cobra.Command{masterCmd, slaveCmd} {
		c.Flags().StringSliceVar(&sharedDomains, "domain", nil, "share only value domains matching these patterns")
		c.Flags().StringSliceVar(&sharedCommands, "command", nil, "share only commands matching these patterns")
		rootCmd.AddCommand(c)
	}
	masterCmd.Flags().StringSliceVar(&putCommands, "put", nil, "commands to issue at start")
	slaveCmd.Flags().StringSliceVar(&handleCommands, "handle", []string{"my-command"}, "commands to handle and clear")
}

func newState() (*engine.Memory, *tracker.Tracker) {
	mem := engine.NewMemory(cfg.RecoveryInterval, slog.Default())
	return mem, tracker.New(mem)
}

func nodeOptions() []syncclient.Option {
	opts := []syncclient.Option{
		syncclient.WithDiscovery(discoveryConfig()),
		syncclient.WithDialer(syncclient.TCPDialer(cfg.RequestTimeout)),
		syncclient.WithLogger(slog.Default()),
	}
	if len(sharedDomains) > 0 {
		opts = append(opts, syncclient.WithSharedDomains(sharedDomains...))
	}
	if len(sharedCommands) > 0 {
		opts = append(opts, syncclient.WithSharedCommands(sharedCommands...))
	}
	return opts
}

// runNode cycles the node and its companion plugin until interrupted.
func runNode(ctx context.Context, node *syncclient.Node, mem *engine.Memory, companion engine.Plugin) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cyclic := engine.NewCyclic(cfg.CycleFrequency, mem, slog.Default())
	cyclic.AddPlugin(node)
	cyclic.AddPlugin(companion)

	color.Yellow("%s %s starting at %d Hz", node.Role(), node.Identifier(), cfg.CycleFrequency)
	if err := cyclic.Run(ctx); err != nil {
		color.Red("✗ %v", err)
		return err
	}
	color.Yellow("%s %s stopped", node.Role(), node.Identifier())
	return nil
}
