// agent is the on-device ADB Toolkit agent: it serves the HTTP API and the
// bulk transfer channel, advertises itself over mDNS, and participates in
// the paired-peer mesh.
//
// Usage:
//
//	agent serve [--config file] [--http-port N] [--transfer-port N]
//	agent identity
//	agent token [--rotate]
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/adbtoolkit/agent/pkg/agent"
	"github.com/adbtoolkit/agent/pkg/pairing"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "ADB Toolkit on-device agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a YAML config file")
	root.PersistentFlags().String("data-dir", "", "directory for pairing state and token")

	root.AddCommand(newServeCmd(), newIdentityCmd(), newTokenCmd())
	return root
}

// loadConfig merges the config file (if any) with flag overrides. Flags
// win over file values.
func loadConfig(cmd *cobra.Command) (agent.Config, error) {
	var cfg agent.Config

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := agent.LoadConfig(path)
		if err != nil {
			return cfg, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	return cfg, nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			flagOverrides(cmd, &cfg)

			a, err := agent.New(cfg)
			if err != nil {
				return err
			}
			if err := a.Start(); err != nil {
				return err
			}
			fmt.Printf("agent %s\n  http     %s\n  transfer %s\n",
				a.DeviceID(), a.HTTPAddr(), a.TransferAddr())

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return a.Stop()
		},
	}
	cmd.Flags().Int("http-port", 0, "HTTP API port")
	cmd.Flags().Int("transfer-port", 0, "transfer channel port")
	cmd.Flags().String("label", "", "device label shown to peers")
	cmd.Flags().String("files-root", "", "filesystem sandbox root")
	cmd.Flags().Bool("no-discovery", false, "disable mDNS advertising and browsing")
	cmd.Flags().String("log-level", "", "trace|debug|info|warn|error|disabled")
	return cmd
}

func flagOverrides(cmd *cobra.Command, cfg *agent.Config) {
	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort, _ = cmd.Flags().GetInt("http-port")
	}
	if cmd.Flags().Changed("transfer-port") {
		cfg.TransferPort, _ = cmd.Flags().GetInt("transfer-port")
	}
	if cmd.Flags().Changed("label") {
		cfg.Label, _ = cmd.Flags().GetString("label")
	}
	if cmd.Flags().Changed("files-root") {
		cfg.FilesRoot, _ = cmd.Flags().GetString("files-root")
	}
	if cmd.Flags().Changed("no-discovery") {
		cfg.DisableDiscovery, _ = cmd.Flags().GetBool("no-discovery")
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
}

func newIdentityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "identity",
		Short: "Print the device identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()

			store, err := pairing.NewStore(pairing.StoreConfig{DataDir: cfg.DataDir})
			if err != nil {
				return err
			}
			fmt.Printf("device id:   %s\n", store.DeviceID())
			fmt.Printf("public key:  %s\n", hex.EncodeToString(store.PublicKey()))
			fmt.Printf("paired:      %d device(s)\n", store.Count())
			return nil
		},
	}
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print or rotate the controller token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.ApplyDefaults()
			path := filepath.Join(cfg.DataDir, agent.TokenFileName)

			if rotate, _ := cmd.Flags().GetBool("rotate"); rotate {
				token := uuid.NewString()
				if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
					return err
				}
				fmt.Println(token)
				return nil
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("no token file at %s (run `agent serve` once or `agent token --rotate`)", path)
			}
			fmt.Println(strings.TrimSpace(string(data)))
			return nil
		},
	}
	cmd.Flags().Bool("rotate", false, "generate and persist a new token")
	return cmd
}
