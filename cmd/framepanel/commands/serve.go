package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bryanchriswhite/framepanel/internal/api"
	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/logger"
	"github.com/bryanchriswhite/framepanel/internal/panel"
)

var servePretty bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the FramePanel server",
	Long: `Start the FramePanel server, mount every configured panel, and serve
the web viewer, MJPEG previews, and the REST API.`,
	Example: `  # Start server on default port (8080)
  framepanel serve

  # Start server on custom port
  framepanel serve --port 9090

  # Start with specific config file
  framepanel serve --config /path/to/config.yaml

  # Start with debug logging
  framepanel serve --log-level debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&servePretty, "pretty", false, "human-readable console logs")
}

func runServe(cmd *cobra.Command, args []string) error {
	fmt.Println("FramePanel - live image panels fed over WebSocket")
	fmt.Println("=================================================")

	// Initialize configuration manager
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to initialize config manager: %w", err)
	}

	// Override port from flag if provided
	if viper.IsSet("server_port") {
		port := viper.GetInt("server_port")
		if port > 0 {
			configMgr.SetPort(port)
		}
	}

	// Override log level from flag if provided
	if viper.IsSet("log_level") {
		logLevel := viper.GetString("log_level")
		if logLevel != "" {
			configMgr.SetLogLevel(logLevel)
		}
	}

	cfg := configMgr.Get()
	logger.Init(cfg.LogLevel, servePretty)
	log := logger.WithComponent("serve")
	log.Info().Str("path", configMgr.GetConfigPath()).Str("log_level", cfg.LogLevel).Msg("Configuration loaded")

	// Mount every configured panel
	registry := panel.NewRegistry(configMgr)
	registry.MountAll()
	defer registry.UnmountAll()

	// Initialize API server
	server := api.NewServer(registry, configMgr)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(cfg.ServerPort)
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println()
	fmt.Println("FramePanel is running")
	fmt.Printf("   - Viewer:  http://localhost:%d\n", cfg.ServerPort)
	fmt.Printf("   - API:     http://localhost:%d/api\n", cfg.ServerPort)
	fmt.Printf("   - Panels:  %d configured\n", len(cfg.Panels))
	fmt.Println("   - Press Ctrl+C to stop")
	fmt.Println()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-sigChan:
	}

	fmt.Println()
	log.Info().Msg("Shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Server shutdown incomplete")
	}
	return nil
}
