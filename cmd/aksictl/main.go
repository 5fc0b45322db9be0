// Command aksictl validates drafts offline and talks to a running AKSI server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/konard/MILANA808-Milana-backend/sdk/go/aksi"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "aksictl",
		Short:   "AKSI command line client",
		Version: version,
		Long: `aksictl scores issue and pull request drafts, runs causality analysis,
and drives a running AKSI server (health, tasks, stats).

Settings come from flags or AKSICTL_* environment variables, e.g.
AKSICTL_SERVER and AKSICTL_API_KEY.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cobra.OnInitialize(initConfig)

	root.PersistentFlags().String("server", "http://localhost:8080", "AKSI server URL")
	root.PersistentFlags().String("api-key", "", "admin API key (empty when auth is disabled)")
	root.PersistentFlags().String("subject", "aksictl", "subject recorded in issued tokens")
	root.PersistentFlags().Duration("timeout", 30*time.Second, "request timeout")
	root.PersistentFlags().Bool("json", false, "output JSON")
	for _, name := range []string{"server", "api-key", "subject", "timeout", "json"} {
		_ = viper.BindPFlag(name, root.PersistentFlags().Lookup(name))
	}

	root.AddCommand(validateCmd())
	root.AddCommand(causalityCmd())
	root.AddCommand(healthCmd())
	root.AddCommand(taskCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(genkeyCmd())
	root.AddCommand(proofCmd())
	return root
}

func initConfig() {
	viper.SetEnvPrefix("AKSICTL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func newClient() (*aksi.Client, error) {
	return aksi.NewClient(aksi.Config{
		BaseURL: viper.GetString("server"),
		APIKey:  viper.GetString("api-key"),
		Subject: viper.GetString("subject"),
		Timeout: viper.GetDuration("timeout"),
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
