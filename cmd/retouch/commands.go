package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/voloshyn/retouch/internal/config"
)

// --- enhance ---

var enhanceCmd = &cobra.Command{
	Use:   "enhance",
	Short: "Enhance an image with a natural-language instruction",
	Long: `Enhance an image with a natural-language instruction.

Examples:
  retouch enhance -i photo.png -p "make the sky more dramatic" -o out.png
  retouch enhance -i photo.jpg -p "restore faded colors" -r 4K -o restored.png`,
	RunE: func(cmd *cobra.Command, args []string) error {
		imagePath, _ := cmd.Flags().GetString("image")
		prompt, _ := cmd.Flags().GetString("prompt")
		resolution, _ := cmd.Flags().GetString("resolution")
		output, _ := cmd.Flags().GetString("output")

		data, err := os.ReadFile(imagePath)
		if err != nil {
			return fmt.Errorf("reading image: %w", err)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		upload := map[string]string{
			"image_data": base64.StdEncoding.EncodeToString(data),
			"mime_type":  mimeTypeForPath(imagePath),
		}
		resp, err := client.post(ctx, "/api/image", upload)
		if err != nil {
			return err
		}
		var snap map[string]any
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		slot := map[string]string{"prompt": prompt}
		if resolution != "" {
			slot["resolution"] = resolution
		}
		resp, err = client.patch(ctx, "/api/slot", slot)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &snap); err != nil {
			return err
		}

		printStep("Enhancing...")
		resp, err = client.post(ctx, "/api/enhance", nil)
		if err != nil {
			return err
		}

		var settled struct {
			Result *struct {
				ImageData string `json:"image_data"`
				MimeType  string `json:"mime_type"`
				HistoryID string `json:"history_id"`
			} `json:"result"`
		}
		if err := decodeJSON(resp, &settled); err != nil {
			return err
		}
		if settled.Result == nil {
			return fmt.Errorf("no result returned")
		}

		out, err := base64.StdEncoding.DecodeString(settled.Result.ImageData)
		if err != nil {
			return fmt.Errorf("decoding result image: %w", err)
		}

		if output == "" {
			output = outputPathFor(imagePath, settled.Result.MimeType)
		}
		if err := os.WriteFile(output, out, 0o644); err != nil {
			return fmt.Errorf("writing output: %w", err)
		}

		printSuccess("Saved %s (%s, history %s)", output, settled.Result.MimeType, settled.Result.HistoryID)
		return nil
	},
}

func init() {
	enhanceCmd.Flags().StringP("image", "i", "", "path to the source image (required)")
	enhanceCmd.Flags().StringP("prompt", "p", "", "enhancement instruction (required)")
	enhanceCmd.Flags().StringP("resolution", "r", "", "output resolution: 1K, 2K, or 4K")
	enhanceCmd.Flags().StringP("output", "o", "", "output file path")
	enhanceCmd.MarkFlagRequired("image")
	enhanceCmd.MarkFlagRequired("prompt")
}

// shortID truncates a record id for the list view. Stored blobs survive
// hand-editing, so ids are not guaranteed to be uuid-length.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func mimeTypeForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}

func outputPathFor(input, mimeType string) string {
	ext := ".png"
	switch mimeType {
	case "image/jpeg":
		ext = ".jpg"
	case "image/webp":
		ext = ".webp"
	case "image/gif":
		ext = ".gif"
	}
	base := strings.TrimSuffix(input, filepath.Ext(input))
	return base + ".enhanced" + ext
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Manage enhancement history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List past enhancements",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/history")
		if err != nil {
			return err
		}

		var items []struct {
			ID         string `json:"id"`
			Prompt     string `json:"prompt"`
			Timestamp  int64  `json:"timestamp"`
			Resolution string `json:"resolution"`
		}
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		if len(items) == 0 {
			fmt.Println("No enhancements yet.")
			return nil
		}

		for _, item := range items {
			ts := time.UnixMilli(item.Timestamp).Format("2006-01-02 15:04")
			prompt := item.Prompt
			if len(prompt) > 60 {
				prompt = prompt[:60] + "..."
			}
			fmt.Printf("%s  %s  %-3s  %s\n",
				colorize(colorCyan, shortID(item.ID)),
				ts,
				item.Resolution,
				prompt,
			)
		}
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single enhancement record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/history/"+args[0])
		if err != nil {
			return err
		}

		var item any
		if err := decodeJSON(resp, &item); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(item)
	},
}

var historyRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete an enhancement record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/history/"+args[0])
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all enhancement records",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL enhancement history. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/api/history")
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		printSuccess("History cleared")
		return nil
	},
}

func init() {
	historyClearCmd.Flags().Bool("confirm", false, "confirm history deletion")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRemoveCmd)
	historyCmd.AddCommand(historyClearCmd)
}

// --- prefs ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update preferences",
}

var prefsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current preferences as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/prefs")
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/api/prefs", map[string]string{key: value})
		if err != nil {
			return err
		}

		var p any
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	prefsCmd.AddCommand(prefsShowCmd)
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- key ---

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage the provider API key",
}

var keySetCmd = &cobra.Command{
	Use:   "set <api-key>",
	Short: "Store the provider API key in the platform secret store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret("provider_api_key", args[0]); err != nil {
			return err
		}
		printSuccess("Provider API key stored")
		return nil
	},
}

var keyStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/api/key")
		if err != nil {
			return err
		}

		var ks struct {
			Selected   bool `json:"selected"`
			Configured bool `json:"configured"`
		}
		if err := decodeJSON(resp, &ks); err != nil {
			return err
		}

		if ks.Selected {
			printStatus("Key", "selected via studio host")
		} else if ks.Configured {
			printStatus("Key", "configured locally")
		} else {
			printStatus("Key", "not configured")
		}
		return nil
	},
}

var keySelectCmd = &cobra.Command{
	Use:   "select",
	Short: "Open the studio host's key selection flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/api/key/select", nil)
		if err != nil {
			return err
		}

		var ks struct {
			Selected bool `json:"selected"`
		}
		if err := decodeJSON(resp, &ks); err != nil {
			return err
		}

		printSuccess("Key selection requested")
		return nil
	},
}

func init() {
	keyCmd.AddCommand(keySetCmd)
	keyCmd.AddCommand(keyStatusCmd)
	keyCmd.AddCommand(keySelectCmd)
}
