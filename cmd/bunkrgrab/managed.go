package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"bunkrgrab/pkg/logger"
	"bunkrgrab/pkg/models"
	"bunkrgrab/pkg/store"
)

var (
	managedLabel  string
	managedFolder string
	managedPolicy string
)

// openStore loads configuration and opens just the album database, for
// registry commands that never touch the network.
func openStore() (*store.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Store.Path, logger.GetLogger())
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", arg)
	}
	return id, nil
}

var managedCmd = &cobra.Command{
	Use:   "managed",
	Short: "Manage the registry of albums tracked across runs",
}

var managedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed albums with their item counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		albums, err := st.ListManagedAlbums(false)
		if err != nil {
			return err
		}
		if len(albums) == 0 {
			fmt.Println("No managed albums. Add one with 'bunkrgrab managed add <url>'.")
			return nil
		}

		urls := make([]string, len(albums))
		for i, m := range albums {
			urls[i] = m.URL
		}
		counts, err := st.GetItemCountsMap(urls, true)
		if err != nil {
			return err
		}

		for _, m := range albums {
			state := "enabled"
			if !m.Enabled {
				state = "disabled"
			}
			c := counts[m.URL]
			fmt.Printf("[%d] %s (%s, policy: %s)\n", m.ID, m.Label, state, m.RemovePolicy)
			fmt.Printf("    url:    %s\n", m.URL)
			fmt.Printf("    folder: %s\n", m.TargetFolder)
			fmt.Printf("    items:  %d (%d images, %d videos, %d archives, %d other)\n",
				c.Total, c.Images, c.Videos, c.Archives, c.Other)
		}
		return nil
	},
}

var managedAddCmd = &cobra.Command{
	Use:   "add <album-url>",
	Short: "Register an album for recurring syncs",
	Example: `  bunkrgrab managed add https://bunkr.si/a/abc123 --label vacation --folder ./vacation

  # Mirror mode: local files follow remote removals
  bunkrgrab managed add https://bunkr.si/a/abc123 --policy delete`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		folder := managedFolder
		if folder == "" {
			folder = "."
		}
		m, err := st.UpsertManagedAlbum(args[0], managedLabel, folder, managedPolicy)
		if err != nil {
			return err
		}
		fmt.Printf("Registered [%d] %s -> %s (policy: %s)\n", m.ID, m.Label, m.TargetFolder, m.RemovePolicy)
		return nil
	},
}

var managedRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Drop an album from the registry (its sync history stays)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		removed, err := st.DeleteManagedAlbum(id)
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no managed album with id %d", id)
		}
		fmt.Printf("Removed managed album %d\n", id)
		return nil
	},
}

var managedPolicyCmd = &cobra.Command{
	Use:   "policy <id> <retain|delete>",
	Short: "Set what happens to local files when items are removed remotely",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[0])
		if err != nil {
			return err
		}
		policy := args[1]
		if !models.ValidRemovePolicy(policy) {
			return fmt.Errorf("policy must be %q or %q", models.RemovePolicyRetain, models.RemovePolicyDelete)
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		updated, err := st.SetRemovePolicy(id, policy == models.RemovePolicyDelete)
		if err != nil {
			return err
		}
		if !updated {
			return fmt.Errorf("no managed album with id %d", id)
		}
		fmt.Printf("Managed album %d policy set to %s\n", id, policy)
		return nil
	},
}

var managedEnableCmd = &cobra.Command{
	Use:   "enable <id>",
	Short: "Include a managed album in 'run' passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setManagedEnabled(args[0], true)
	},
}

var managedDisableCmd = &cobra.Command{
	Use:   "disable <id>",
	Short: "Exclude a managed album from 'run' passes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setManagedEnabled(args[0], false)
	},
}

func setManagedEnabled(arg string, enabled bool) error {
	id, err := parseID(arg)
	if err != nil {
		return err
	}
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	updated, err := st.SetManagedEnabled(id, enabled)
	if err != nil {
		return err
	}
	if !updated {
		return fmt.Errorf("no managed album with id %d", id)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Managed album %d %s\n", id, state)
	return nil
}

func init() {
	rootCmd.AddCommand(managedCmd)
	managedCmd.AddCommand(managedListCmd)
	managedCmd.AddCommand(managedAddCmd)
	managedCmd.AddCommand(managedRemoveCmd)
	managedCmd.AddCommand(managedPolicyCmd)
	managedCmd.AddCommand(managedEnableCmd)
	managedCmd.AddCommand(managedDisableCmd)

	managedAddCmd.Flags().StringVar(&managedLabel, "label", "", "display label (default: the album URL)")
	managedAddCmd.Flags().StringVar(&managedFolder, "folder", "", "target folder for downloads (default: current directory)")
	managedAddCmd.Flags().StringVar(&managedPolicy, "policy", models.RemovePolicyRetain, "removal policy: retain or delete")
}
