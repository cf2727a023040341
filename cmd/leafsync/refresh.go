package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/pkg/linkedfile"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <file-id>",
	Short: "Re-import a linked file from its source",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient(ctx)
		file, err := loadFile(ctx, c, args[0])
		if err != nil {
			return err
		}

		var keys []string
		h := linkedfile.NewHeader(ctx, linkedfile.HeaderConfig{
			ProjectID: cfg.ProjectID,
			File:      *file,
			API:       c,
			Keys:      linkedfile.ReferenceKeysFunc(func(k []string) { keys = k }),
			Logger:    logging.FromContext(ctx),
		})
		defer h.Close()

		refreshErr := h.Refresh(ctx)
		out := cmd.OutOrStdout()
		if v := h.View(); v.Error != "" {
			fmt.Fprintln(out, v.Error)
		} else if refreshErr == nil {
			fmt.Fprintf(out, "refreshed %s\n", file.Name)
		}
		if keys != nil {
			fmt.Fprintf(out, "%d reference keys: %s\n", len(keys), strings.Join(keys, ", "))
		}
		return refreshErr
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
