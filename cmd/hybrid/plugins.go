package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danshapiro/hybrid/internal/plugin"
)

func newPluginsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "List plugin manifests discovered under the plugins directory",
		RunE:  runPlugins,
	}
	cmd.Flags().String("dir", "", "Plugins directory (default <cwd>/plugins)")
	return cmd
}

func runPlugins(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		root, err := os.Getwd()
		if err != nil {
			return err
		}
		dir = filepath.Join(root, "plugins")
	}
	manifests, warnings := plugin.Discover(dir)
	for _, w := range warnings {
		warn("%s", w)
	}
	if len(manifests) == 0 {
		fmt.Println("[INFO] No plugins found.")
		return nil
	}
	for _, kind := range []string{plugin.KindExecutor, plugin.KindValidator, plugin.KindGenerator} {
		group := plugin.ByKind(manifests, kind)
		if len(group) == 0 {
			continue
		}
		fmt.Printf("%s:\n", kind)
		for _, m := range group {
			desc := m.Description
			if desc == "" {
				desc = strings.Join(m.Command, " ")
			}
			fmt.Printf("  %-20s %s\n", m.ID, desc)
		}
	}
	return nil
}
