package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "framepanel",
		Short: "FramePanel - live image panels fed over WebSocket",
		Long: `FramePanel hosts dashboard panels that subscribe to WebSocket endpoints
pushing binary image frames and always display the most recent frame.

Features:
  • JPEG, PNG, WebP, TIFF, raw BGR, and LZ4-compressed raw frames
  • Automatic payload format detection
  • Automatic reconnect with configurable delay
  • Latest-frame-wins rendering, stale frames are dropped
  • MJPEG previews and a built-in web viewer
  • REST API for panel management
  • Built-in test frame source`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/framepanel/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	// Bind flags to viper
	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}
