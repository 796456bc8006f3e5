package command

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ikarusms/internal/microservices/broker"
)

var statusCmd = &cobra.Command{
	Use:   "status <url>",
	Short: "Show the sessions of a broker",
	Long: `Fetch the status endpoint of a broker started with MS_STATUS_ADDR and list
the logged in masters and slaves.

Example: msctl status http://127.0.0.1:9100`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := fetchSessions(args[0])
		if err != nil {
			return err
		}
		printSessions(cmd.OutOrStdout(), sessions)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func fetchSessions(baseURL string) (*broker.Sessions, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/status")
	if err != nil {
		return nil, fmt.Errorf("failed to reach broker status endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("broker status endpoint returned %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read status: %w", err)
	}

	var sessions broker.Sessions
	if err := sonic.Unmarshal(body, &sessions); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &sessions, nil
}

func printSessions(w io.Writer, sessions *broker.Sessions) {
	bold := color.New(color.Bold)

	bold.Fprintf(w, "Masters (%d)\n", len(sessions.Masters))
	for _, id := range sortedKeys(sessions.Masters) {
		fmt.Fprintf(w, "  %s  %d sections\n", id, sessions.Masters[id])
	}

	bold.Fprintf(w, "Slaves (%d)\n", len(sessions.Slaves))
	for _, id := range sortedKeys(sessions.Slaves) {
		master := sessions.Slaves[id]
		if _, online := sessions.Masters[master]; online {
			fmt.Fprintf(w, "  %s -> %s\n", id, master)
		} else {
			fmt.Fprintf(w, "  %s -> %s %s\n", id, master, color.RedString("(offline)"))
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
