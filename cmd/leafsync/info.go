package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leafsync/leafsync/internal/logging"
	"github.com/leafsync/leafsync/pkg/linkedfile"
)

var infoHTML bool

var infoCmd = &cobra.Command{
	Use:   "info <file-id>",
	Short: "Show where a file was imported from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		c := newClient(ctx)
		file, err := loadFile(ctx, c, args[0])
		if err != nil {
			return err
		}

		h := linkedfile.NewHeader(ctx, linkedfile.HeaderConfig{
			ProjectID: cfg.ProjectID,
			File:      *file,
			API:       c,
			Logger:    logging.FromContext(ctx),
		})
		defer h.Close()
		v := h.View()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "name:     %s\n", file.Name)
		fmt.Fprintf(out, "download: %s%s\n", c.BaseURL(), v.DownloadHref)
		switch {
		case v.Provenance == nil && file.IsLinked():
			fmt.Fprintf(out, "source:   %s\n", file.LinkedFileData.Provider)
		case v.Provenance == nil:
			fmt.Fprintln(out, "source:   uploaded")
		case infoHTML:
			fmt.Fprintf(out, "source:   %s\n", v.Provenance.HTML())
		default:
			fmt.Fprintf(out, "source:   %s\n", v.Provenance.Text())
		}
		if v.ShowRefresh {
			fmt.Fprintf(out, "refresh:  leafsync refresh %s\n", file.ID)
		}
		return nil
	},
}

func init() {
	infoCmd.Flags().BoolVar(&infoHTML, "html", false, "Render the source line as HTML")
	rootCmd.AddCommand(infoCmd)
}
