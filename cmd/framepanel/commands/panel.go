package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/bryanchriswhite/framepanel/internal/config"
)

var panelCmd = &cobra.Command{
	Use:   "panel",
	Short: "Manage configured panels",
	Long: `Add, remove, and list the panels stored in the configuration.

Changes take effect the next time the server starts. A running server is
managed through the REST API instead.`,
}

var panelAddCmd = &cobra.Command{
	Use:   "add URL",
	Short: "Add a panel",
	Long:  `Add a panel subscribed to the given WebSocket endpoint.`,
	Example: `  # Add a panel with defaults (auto format, contain fit)
  framepanel panel add ws://localhost:8765/

  # Named panel with a fixed surface and cover fit
  framepanel panel add wss://cam.example.com/feed --name "Lobby" --fit cover --width 1280 --height 720

  # Raw frames with a two second reconnect delay
  framepanel panel add ws://sensor:9100/ --frame-format rawbmp --reconnect-delay 2000`,
	Args: cobra.ExactArgs(1),
	RunE: runPanelAdd,
}

var panelRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a panel",
	Long:  `Remove a panel from the configuration by its id.`,
	Example: `  # Remove a panel
  framepanel panel remove 6f1aefb8-4a5c-4f7e-9a3f-0c9be22f11a2`,
	Args: cobra.ExactArgs(1),
	RunE: runPanelRemove,
}

var panelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured panels",
	Long:  `Display all panels stored in the configuration.`,
	Example: `  # List panels in table format (default)
  framepanel panel list

  # List panels in JSON format
  framepanel panel list --format json`,
	RunE: runPanelList,
}

var (
	panelName       string
	panelFit        string
	panelFormat     string
	panelDelayMs    int
	panelBackoff    bool
	panelWidth      int
	panelHeight     int
	panelHideStatus bool
	panelListFormat string
)

func init() {
	rootCmd.AddCommand(panelCmd)
	panelCmd.AddCommand(panelAddCmd)
	panelCmd.AddCommand(panelRemoveCmd)
	panelCmd.AddCommand(panelListCmd)

	panelAddCmd.Flags().StringVar(&panelName, "name", "", "display name")
	panelAddCmd.Flags().StringVar(&panelFit, "fit", string(config.FitContain), "fit mode (contain, cover, fill, none, scale-down)")
	panelAddCmd.Flags().StringVar(&panelFormat, "frame-format", string(config.FormatAuto), "frame format (auto, jpeg, png, webp, tiff, rawbmp, lz4raw)")
	panelAddCmd.Flags().IntVar(&panelDelayMs, "reconnect-delay", config.DefaultReconnectDelayMs, "reconnect delay in milliseconds")
	panelAddCmd.Flags().BoolVar(&panelBackoff, "backoff", false, "double the reconnect delay after each failure")
	panelAddCmd.Flags().IntVar(&panelWidth, "width", 0, "fixed surface width (0 follows the stream)")
	panelAddCmd.Flags().IntVar(&panelHeight, "height", 0, "fixed surface height (0 follows the stream)")
	panelAddCmd.Flags().BoolVar(&panelHideStatus, "hide-status", false, "hide the status line in the viewer")

	panelListCmd.Flags().StringVarP(&panelListFormat, "format", "f", "table", "output format (table or json)")
}

func runPanelAdd(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	opts := config.PanelOptions{
		EndpointURL:      args[0],
		ReconnectDelayMs: panelDelayMs,
		ReconnectBackoff: panelBackoff,
		FormatMode:       config.FormatMode(panelFormat),
		FitMode:          config.FitMode(panelFit),
		ShowStatus:       !panelHideStatus,
		Width:            panelWidth,
		Height:           panelHeight,
	}

	stored, err := configMgr.AddPanel(config.PanelConfig{Name: panelName, Options: opts})
	if err != nil {
		return fmt.Errorf("failed to add panel: %w", err)
	}

	fmt.Printf("Added panel %s (%s)\n", stored.ID, stored.Options.EndpointURL)
	return nil
}

func runPanelRemove(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := configMgr.RemovePanel(args[0]); err != nil {
		return fmt.Errorf("failed to remove panel: %w", err)
	}

	fmt.Printf("Removed panel %s\n", args[0])
	return nil
}

func runPanelList(cmd *cobra.Command, args []string) error {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	panels := configMgr.Panels()

	switch panelListFormat {
	case "json":
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(panels)
	case "table":
		return printPanelsTable(panels)
	default:
		return fmt.Errorf("unsupported format: %s (use 'table' or 'json')", panelListFormat)
	}
}

func printPanelsTable(panels []config.PanelConfig) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "ID\tNAME\tENDPOINT\tFORMAT\tFIT")
	fmt.Fprintln(w, "--\t----\t--------\t------\t---")

	for _, p := range panels {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Name, p.Options.EndpointURL, p.Options.FormatMode, p.Options.FitMode)
	}

	return nil
}
