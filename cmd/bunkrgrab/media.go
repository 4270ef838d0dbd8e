package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/store"
)

var (
	mediaIncludeRemoved bool
	mediaDeleteFile     bool
	mediaAllowedRoot    string
)

var mediaCmd = &cobra.Command{
	Use:   "media",
	Short: "Inspect and prune stored album items",
}

var mediaListCmd = &cobra.Command{
	Use:   "list <album-url>",
	Short: "List the stored items of an album",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		items, err := st.ListMediaItems(strings.TrimSpace(args[0]), mediaIncludeRemoved)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			fmt.Println("No stored items for this album.")
			return nil
		}

		for _, item := range items {
			flags := make([]string, 0, 2)
			if !item.IsActive {
				flags = append(flags, "removed")
			}
			if item.IsDownloaded {
				flags = append(flags, "downloaded")
			}
			suffix := ""
			if len(flags) > 0 {
				suffix = " [" + strings.Join(flags, ", ") + "]"
			}
			fmt.Printf("[%d] %s (%s, %d bytes)%s\n",
				item.ID, item.DisplayName, item.Category, item.SizeBytes, suffix)
		}
		return nil
	},
}

var mediaDeleteCmd = &cobra.Command{
	Use:   "delete <album-url> <item-id>",
	Short: "Delete one stored item, optionally with its local file",
	Long: `Delete a single item row from the store.

With --delete-file the downloaded file is removed too, but only when its
recorded path lies inside the allowed root (the output directory unless
--root overrides it). Paths outside the root are refused and the refusal is
reported.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := store.Open(cfg.Store.Path, logger.GetLogger())
		if err != nil {
			return err
		}
		defer st.Close()

		root := mediaAllowedRoot
		if root == "" {
			root = cfg.Output.BaseDirectory
		}

		result, err := st.DeleteMediaItem(strings.TrimSpace(args[0]), id, mediaDeleteFile, root)
		if err != nil {
			return err
		}
		if !result.RowDeleted {
			if result.Message != "" {
				return fmt.Errorf("%s", result.Message)
			}
			return fmt.Errorf("item %d not found", id)
		}
		fmt.Printf("Deleted item %d", id)
		if result.FileDeleted {
			fmt.Print(" and its local file")
		}
		fmt.Println()
		if result.Message != "" {
			fmt.Println(result.Message)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(mediaCmd)
	mediaCmd.AddCommand(mediaListCmd)
	mediaCmd.AddCommand(mediaDeleteCmd)

	mediaListCmd.Flags().BoolVar(&mediaIncludeRemoved, "all", false, "include soft-removed items")
	mediaDeleteCmd.Flags().BoolVar(&mediaDeleteFile, "delete-file", false, "also delete the downloaded file")
	mediaDeleteCmd.Flags().StringVar(&mediaAllowedRoot, "root", "", "root directory file deletion is confined to")
}
