package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/quizimport/internal/core"
)

// maxListedErrors caps how many row errors the report prints per kind.
const maxListedErrors = 20

type importOptions struct {
	recordType string
	file       string
	format     string
	resolve    string
	dryRun     bool
	batchSize  int
}

func newImportCmd(g *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a delimited or structured file",
		Long: `Import reconciles a file against stored records and applies it after
printing a preview. Conflicting records are kept unless --resolve says
otherwise. Use --dry-run to stop after the preview.

Row and item failures are reported without failing the command. Unreadable
files and failed lookups exit with 1.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			st, cfg, err := openStore(ctx, g)
			if err != nil {
				return err
			}
			defer st.Close()

			batch := cfg.Import.BatchSize
			if cmd.Flags().Changed("batch-size") {
				batch = opts.batchSize
			}
			svc := core.NewService(st, nil, core.ServiceConfig{BatchSize: batch})
			return runImport(ctx, svc, opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.recordType, "type", "", "Record type, e.g. question or glossary_term (required)")
	cmd.Flags().StringVar(&opts.file, "file", "", `File to import, or "-" for stdin (required)`)
	cmd.Flags().StringVar(&opts.format, "format", "", "delimited or structured (default: from the file extension)")
	cmd.Flags().StringVar(&opts.resolve, "resolve", "keep", "Resolution for every conflict: keep, replace, or merge")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Report what would happen without writing")
	cmd.Flags().IntVar(&opts.batchSize, "batch-size", core.DefaultBatchSize, "Records written per batch")

	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func runImport(ctx context.Context, svc *core.Service, opts importOptions, stdin io.Reader, out io.Writer) error {
	req := core.AnalyzeRequest{RecordType: opts.recordType, FileName: opts.file}

	if opts.format != "" {
		format, err := core.ParseFormat(opts.format)
		if err != nil {
			return err
		}
		req.Format = format
	}

	resolution, err := core.ParseResolution(opts.resolve)
	if err != nil {
		return err
	}

	if opts.file == "-" {
		req.FileName = ""
		req.Payload, err = io.ReadAll(stdin)
	} else {
		req.Payload, err = os.ReadFile(opts.file)
		req.FileName = filepath.Base(opts.file)
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.file, err)
	}

	report, err := svc.Import(ctx, req, core.ImportOptions{
		Bulk:      &resolution,
		DryRun:    opts.dryRun,
		OnPreview: func(p *core.Preview) { printPreview(out, p, resolution) },
		Progress: func(p core.Progress) {
			fmt.Fprintf(out, "applied %d/%d (%.0f%%)\n", p.Processed, p.Total, p.Percent)
		},
	})
	if err != nil {
		return err
	}

	if report.Outcome == nil {
		fmt.Fprintln(out, "dry run: nothing written")
		return nil
	}
	printOutcome(out, report.Outcome)
	return nil
}

func printPreview(out io.Writer, p *core.Preview, resolution core.Resolution) {
	c := p.Counts
	fmt.Fprintf(out, "%s (%s): %d rows\n", displayName(p), p.Format, c.Rows)
	fmt.Fprintf(out, "  parse errors: %d\n", c.ParseErrors)
	fmt.Fprintf(out, "  invalid:      %d\n", c.Invalid)
	fmt.Fprintf(out, "  new:          %d\n", c.New)
	fmt.Fprintf(out, "  conflicts:    %d (%d unchanged), resolved as %s\n", c.Conflicts, c.Unchanged, resolution)

	for i, e := range p.ParseErrors {
		if i == maxListedErrors {
			fmt.Fprintf(out, "  ... %d more parse errors\n", len(p.ParseErrors)-i)
			break
		}
		fmt.Fprintf(out, "  ! %s\n", e.Error())
	}
	for i, e := range p.ValidationErrors {
		if i == maxListedErrors {
			fmt.Fprintf(out, "  ... %d more invalid rows\n", len(p.ValidationErrors)-i)
			break
		}
		fmt.Fprintf(out, "  ! %s\n", e.Error())
	}
}

func displayName(p *core.Preview) string {
	if p.FileName == "" {
		return "stdin"
	}
	return p.FileName
}

func printOutcome(out io.Writer, o *core.ImportOutcome) {
	fmt.Fprintf(out, "inserted %d, updated %d, kept %d, failed %d in %dms\n",
		o.Inserted, o.Updated, o.Kept, o.Failed, o.Millis)
	for _, f := range o.Failures {
		fmt.Fprintf(out, "  ! %s: %s\n", f.Key, f.Reason)
	}
	if o.Stopped {
		fmt.Fprintln(out, "stopped before all batches were written; rerun to finish")
	}
}
