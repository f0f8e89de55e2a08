package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/magpie/pkg/client"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "magpie",
	Short: "Magpie - data-collection task orchestrator",
	Long: `Magpie orchestrates declarative data-collection tasks: crawls,
API pulls, and database extracts. Tasks are persisted, fired by their
schedules, and run as isolated containers on a worker host; containers
report back through heartbeat and completion callbacks.

One binary carries both the server and the client commands.`,
	Version: Version,
}

var (
	serverAddr string
	serverUser string
)

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Magpie version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", envOr("MAGPIE_SERVER", "http://127.0.0.1:8420"), "Control API address")
	rootCmd.PersistentFlags().StringVar(&serverUser, "user", envOr("MAGPIE_USER", "admin"), "Subject sent with API requests")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(executionCmd)
	rootCmd.AddCommand(applyCmd)
}

// apiClient builds the client the CLI subcommands share
func apiClient() *client.Client {
	return client.New(serverAddr, serverUser)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
