package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/quizimport/internal/core"
)

func newSchemasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schemas",
		Short: "List record types and the column names each accepts",
		Long: `Schemas lists every importable record type. Each field shows its other
accepted column names. k marks the natural key and * a required field.

List fields in a single cell separate items with | or a newline.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for i, schema := range core.All() {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintf(out, "%s (table %s, collection %q)\n", schema.Type, schema.Table, schema.Collection)
				for _, line := range schemaColumns(schema) {
					fmt.Fprintln(out, "  "+line)
				}
			}
			return nil
		},
	}
}

// schemaColumns renders accepted columns for the schemas command.
func schemaColumns(schema *core.RecordSchema) []string {
	cols := schema.Columns()
	lines := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		marker := " "
		if f.Required {
			marker = "*"
		}
		if f.Name == schema.KeyField {
			marker = "k"
		}
		lines = append(lines, fmt.Sprintf("%s %-16s %s", marker, f.Name, strings.Join(cols[f.Name][1:], ", ")))
	}
	return lines
}
