package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/framepanel/internal/config"
	"github.com/bryanchriswhite/framepanel/internal/logger"
	"github.com/bryanchriswhite/framepanel/internal/sender"
)

var (
	sendHost    string
	sendPort    int
	sendPath    string
	sendFPS     float64
	sendWidth   int
	sendHeight  int
	sendFormat  string
	sendQuality int
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Run a test frame source",
	Long: `Run a WebSocket server that pushes synthetic test frames to every
connected panel. Useful for trying panels out without a real source.`,
	Example: `  # Default source: JPEG frames, 640x480 at 10 fps on port 8765
  framepanel send

  # Raw BGR frames at 30 fps
  framepanel send --format rawbmp --fps 30

  # LZ4-compressed raw frames at 720p
  framepanel send --format lz4raw --width 1280 --height 720`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendHost, "host", "localhost", "listen host")
	sendCmd.Flags().IntVar(&sendPort, "send-port", sender.DefaultPort, "listen port")
	sendCmd.Flags().StringVar(&sendPath, "path", "/", "WebSocket path")
	sendCmd.Flags().Float64Var(&sendFPS, "fps", 10, "frames per second")
	sendCmd.Flags().IntVar(&sendWidth, "width", 640, "frame width")
	sendCmd.Flags().IntVar(&sendHeight, "height", 480, "frame height")
	sendCmd.Flags().StringVar(&sendFormat, "format", "jpeg", "frame format (jpeg, png, tiff, rawbmp, lz4raw)")
	sendCmd.Flags().IntVar(&sendQuality, "quality", 85, "JPEG quality")
}

func runSend(cmd *cobra.Command, args []string) error {
	logger.Init("info", true)

	srv, err := sender.New(sender.Config{
		Host:    sendHost,
		Port:    sendPort,
		Path:    sendPath,
		FPS:     sendFPS,
		Width:   sendWidth,
		Height:  sendHeight,
		Format:  config.FormatMode(sendFormat),
		Quality: sendQuality,
	}, logger.WithComponent("sender"))
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	fmt.Printf("Test frame source running on %s\n", srv.URL())
	fmt.Println("Point a panel's endpoint_url at it. Press Ctrl+C to stop.")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Stop(ctx)
}
