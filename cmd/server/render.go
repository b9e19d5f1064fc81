package main

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/doc-organiser/preview-gateway/internal/preview"
	"github.com/spf13/cobra"
)

func newRenderCmd() *cobra.Command {
	var mimeType, labels string

	cmd := &cobra.Command{
		Use:   "render <file>",
		Short: "Render a local file the way the preview endpoint would",
		Long: `render classifies a local file and prints its text preview: HTML for
markdown, the parsed table for CSV, the language label for code. Types that
are previewed from a URL only print their classification.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]
			if mimeType == "" {
				mimeType = mime.TypeByExtension(filepath.Ext(name))
			}

			labeler, err := preview.LoadLabelerFile(labels)
			if err != nil {
				return err
			}

			typ := preview.Classify(mimeType, filepath.Base(name))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "type: %s\n", typ)
			if !preview.NeedsTextContent(typ) {
				return nil
			}

			data, err := os.ReadFile(name)
			if err != nil {
				return err
			}
			content, err := preview.Render(typ, filepath.Base(name), data, labeler)
			if err != nil {
				return err
			}
			writeContent(out, content)
			return nil
		},
	}

	cmd.Flags().StringVar(&mimeType, "mime", "", "MIME type (default: guessed from the extension)")
	cmd.Flags().StringVar(&labels, "labels", "", "YAML file with language label overrides")
	return cmd
}

func writeContent(w io.Writer, c *preview.Content) {
	switch c.Type {
	case preview.TypeMarkdown:
		fmt.Fprintln(w, c.HTML)
	case preview.TypeCSV:
		fmt.Fprintf(w, "columns: %d\n", c.Width)
		for _, row := range c.Rows.Padded() {
			fmt.Fprintln(w, strings.Join(row, "\t"))
		}
	case preview.TypeCode:
		fmt.Fprintf(w, "language: %s\n", c.Language)
		fmt.Fprintf(w, "highlight: %s\n", c.Highlight)
	}
}

func newClassifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "classify <mime-type> <file-name>",
		Short: "Print the preview type for a MIME type and file name",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ := preview.Classify(args[0], args[1])
			fmt.Fprintln(cmd.OutOrStdout(), typ)
			if typ == preview.TypeCode {
				fmt.Fprintln(cmd.OutOrStdout(), preview.LanguageLabel(args[1]))
			}
			return nil
		},
	}
}
