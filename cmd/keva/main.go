package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/keva-io/keva/pkg/index"
	"github.com/keva-io/keva/pkg/keylock"
	"github.com/keva-io/keva/pkg/log"
	"github.com/keva-io/keva/pkg/metrics"
	"github.com/keva-io/keva/pkg/rebalance"
	"github.com/keva-io/keva/pkg/rebuild"
	"github.com/keva-io/keva/pkg/server"
	"github.com/keva-io/keva/pkg/types"
	"github.com/keva-io/keva/pkg/volume"
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
	Use:   "keva",
	Short: "keva - distributed blob store master",
	Long: `keva is the master of a small distributed blob store: it maps keys to
replicated immutable values held on remote HTTP volume servers and answers
client requests with redirects to the volumes that physically hold the bytes.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"keva version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().Int("port", 3000, "Port for the server to listen on")
	rootCmd.PersistentFlags().String("volumes", "", "Volumes to use for storage, comma separated")
	rootCmd.PersistentFlags().Int("replicas", 3, "Amount of replicas to make of the data")
	rootCmd.PersistentFlags().Int("subvolumes", 10, "Amount of subvolumes, disks per machine")
	rootCmd.PersistentFlags().String("fallback", "", "Fallback server for missing keys")
	rootCmd.PersistentFlags().Bool("unlink", true, "Force UNLINK before DELETE")
	rootCmd.PersistentFlags().String("data-dir", "./data", "Directory holding the index database")
	rootCmd.PersistentFlags().String("config", "", "Optional YAML config file (flags take precedence)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Address for the Prometheus /metrics endpoint (disabled when empty)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(rebalanceCmd)
	rootCmd.AddCommand(rebuildCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}

// loadConfig builds the effective configuration: YAML file first when given,
// then any flag the user set on top, then validation.
func loadConfig(cmd *cobra.Command) (*types.Config, error) {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")

	cfg := &types.Config{}
	if path != "" {
		loaded, err := types.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if cfg.Port == 0 || flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if vols, _ := flags.GetString("volumes"); vols != "" {
		cfg.Volumes = strings.Split(vols, ",")
	}
	if cfg.Replicas == 0 || flags.Changed("replicas") {
		cfg.Replicas, _ = flags.GetInt("replicas")
	}
	if cfg.Subvolumes == 0 || flags.Changed("subvolumes") {
		cfg.Subvolumes, _ = flags.GetInt("subvolumes")
	}
	if fallback, _ := flags.GetString("fallback"); fallback != "" {
		cfg.Fallback = fallback
	}
	if path == "" || flags.Changed("unlink") {
		cfg.Protect, _ = flags.GetBool("unlink")
	}
	if cfg.DataDir == "" || flags.Changed("data-dir") {
		cfg.DataDir, _ = flags.GetString("data-dir")
	}
	if addr, _ := flags.GetString("metrics-addr"); addr != "" {
		cfg.MetricsAddr = addr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// trackIndexSize refreshes the index key-count gauge in the background
func trackIndexSize(idx *index.Index) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		n, err := idx.Count()
		if err != nil {
			continue
		}
		metrics.IndexKeys.Set(float64(n))
	}
}

func openIndex(cfg *types.Config) (*index.Index, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return index.Open(cfg.DataDir)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the master server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		idx, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer idx.Close()

		metrics.Register()
		if cfg.MetricsAddr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", metrics.Handler())
				if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
					log.Logger.Error().Err(err).Msg("Metrics server error")
				}
			}()
		}
		go trackIndexSize(idx)

		log.Logger.Info().
			Int("port", cfg.Port).
			Strs("volumes", cfg.Volumes).
			Int("replicas", cfg.Replicas).
			Int("subvolumes", cfg.Subvolumes).
			Bool("protect", cfg.Protect).
			Str("fallback", cfg.Fallback).
			Msg("Starting keva master")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := server.New(cfg, idx)
		if err := srv.Start(ctx); err != nil {
			return fmt.Errorf("server failed: %w", err)
		}

		log.Info("Shut down cleanly")
		return nil
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Move replicas so every key matches its current placement",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		idx, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer idx.Close()

		metrics.Register()
		r := rebalance.New(cfg, idx, keylock.NewTable(), volume.NewClient())
		return r.Run()
	},
}

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Reconstruct the index by scanning the volume servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		idx, err := openIndex(cfg)
		if err != nil {
			return err
		}
		defer idx.Close()

		metrics.Register()
		r := rebuild.New(cfg, idx, keylock.NewTable(), volume.NewClient())
		return r.Run()
	},
}
