package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/user/roomsync/internal/session"
	"github.com/user/roomsync/internal/types"
)

var tabsRoom string

func init() {
	rootCmd.AddCommand(tabsCmd)
	tabsCmd.PersistentFlags().StringVar(&tabsRoom, "room", "", "room id")
	tabsCmd.MarkPersistentFlagRequired("room")
	tabsCmd.AddCommand(tabsListCmd, tabsClearCmd)
}

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "Inspect a room's persisted tab layout",
}

var tabsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the room's tabs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		store := session.NewTabStore(cfg.DataDir)

		layout, err := store.Load(types.RoomID(tabsRoom))
		if err != nil {
			return fmt.Errorf("load tab layout: %w", err)
		}
		if len(layout.AllIDs) == 0 {
			fmt.Println("No tabs found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTHREAD\tNAME\tACTIVE")
		for _, id := range layout.AllIDs {
			tab, ok := layout.ByID[id]
			if !ok {
				continue
			}
			active := ""
			if id == layout.ActiveTabID {
				active = "*"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tab.ID, tab.ThreadID, tab.Name, active)
		}
		return w.Flush()
	},
}

var tabsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the room's persisted tab layout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		path := filepath.Join(cfg.DataDir, "tabs", tabsRoom+".json")
		if err := os.Remove(path); err != nil {
			if os.IsNotExist(err) {
				fmt.Println("No tabs found.")
				return nil
			}
			return fmt.Errorf("remove tab layout: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Tabs cleared for room %s.\n", tabsRoom)
		return nil
	},
}
