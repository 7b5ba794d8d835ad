// Command mockforge runs the LLM-backed mock API server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mockforge/mockforge/internal/application"
	"github.com/mockforge/mockforge/internal/infrastructure/config"
	"github.com/mockforge/mockforge/internal/infrastructure/logger"
)

const (
	appName    = "mockforge"
	appVersion = "0.3.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           appName,
		Short:         "LLM-backed mock API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to mockforge.yaml")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Validate the configuration and report the backend pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(configPath)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting mockforge",
		zap.String("version", appVersion),
		zap.Int("port", cfg.Server.Port),
		zap.String("prefix", cfg.Server.Prefix),
		zap.Int("backends", len(cfg.LLM.Backends)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.NewApp(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := app.Stop(shutdownCtx); err != nil {
		log.Warn("Shutdown incomplete", zap.Error(err))
	}
	log.Info("Goodbye")
	return nil
}

func runDoctor(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}
	fmt.Printf("configuration ok\n")
	fmt.Printf("  listen:   %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  prefix:   %s\n", cfg.Server.Prefix)
	fmt.Printf("  backends: %d\n", len(cfg.LLM.Backends))
	for _, b := range cfg.LLM.Backends {
		state := "disabled"
		if b.Enabled {
			state = "enabled"
		}
		fmt.Printf("    - %s (%s, weight %d, priority %d, %s)\n",
			b.Name, b.Provider, b.EffectiveWeight(), b.Priority, state)
	}
	if cfg.Management.AuthMode == "off" {
		fmt.Println("  warning: management surface is unauthenticated")
	}
	return nil
}
