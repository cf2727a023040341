package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leafsync/leafsync/pkg/filetree"
	"github.com/leafsync/leafsync/pkg/models"
)

var (
	treeJSON  bool
	treeLimit int
)

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Print the project's file tree",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		root, err := newClient(ctx).FetchTree(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("fetch tree: %w", err)
		}
		tree, err := filetree.NewTree(root)
		if err != nil {
			return fmt.Errorf("build tree: %w", err)
		}
		if treeJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(tree.Snapshot())
		}
		printTree(cmd.OutOrStdout(), tree, treeLimit)
		return nil
	},
}

func init() {
	treeCmd.Flags().BoolVar(&treeJSON, "json", false, "Print the tree in the server's JSON shape")
	treeCmd.Flags().IntVar(&treeLimit, "limit", 0, "Stop after this many entries (0 = all)")
	rootCmd.AddCommand(treeCmd)
}

// printTree writes one line per entity, indented by depth. Folders end
// in a slash and linked files name their provider.
func printTree(w io.Writer, tree *filetree.Tree, limit int) {
	n := 0
	tree.Walk(func(e filetree.Entity) bool {
		if limit > 0 && n == limit {
			fmt.Fprintf(w, "... (%d entries)\n", tree.Count())
			return false
		}
		n++
		line := strings.Repeat("  ", len(e.Path)) + e.Name
		switch {
		case e.Kind == models.KindFolder:
			line += "/"
		case e.File != nil && e.File.IsLinked():
			line += fmt.Sprintf("  [%s]", e.File.LinkedFileData.Provider)
		}
		fmt.Fprintf(w, "%s  %s\n", line, e.ID)
		return true
	})
}
