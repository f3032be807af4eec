package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"defir/internal/domain/model"
	"defir/internal/services/auditverify"
	"defir/internal/services/ingest"
)

func newCaseCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Open, inspect and update cases",
	}
	cmd.AddCommand(newCaseOpenCmd(g))
	cmd.AddCommand(newCaseListCmd(g))
	cmd.AddCommand(newCaseShowCmd(g))
	cmd.AddCommand(newCaseAddEvidenceCmd(g))
	cmd.AddCommand(newCaseStatusCmd(g))
	cmd.AddCommand(newCaseVerifyCmd(g))
	return cmd
}

func newCaseOpenCmd(g *globalFlags) *cobra.Command {
	var victim, evType, description string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "open FILE",
		Short: "Open a new case with FILE as the initial evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, name, err := readInputFile(args[0])
			if err != nil {
				return err
			}
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Service.CreateCase(cmd.Context(), ingest.CreateCaseRequest{
				Content:     content,
				FileName:    name,
				Victim:      victim,
				Type:        evType,
				Description: description,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, "case opened")
			fmt.Fprintf(out, "case_id=%s\n", res.CaseID)
			fmt.Fprintf(out, "content_id=%s\n", res.ContentID)
			fmt.Fprintf(out, "evidence_id=%s\n", res.EvidenceID)
			fmt.Fprintf(out, "simulated_tx_id=%s\n", res.SimulatedTxID)
			fmt.Fprintf(out, "gateway_url=%s\n", res.GatewayURL)
			return nil
		},
	}
	cmd.Flags().StringVar(&victim, "victim", "", "complainant name")
	cmd.Flags().StringVar(&evType, "type", "", "evidence type: audio, document, image or other (default audio)")
	cmd.Flags().StringVar(&description, "description", "", "evidence description")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCaseListCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cases, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			rows, err := rt.Service.ListCases(cmd.Context())
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), rows)
			case "table":
				renderCaseTable(cmd.OutOrStdout(), rows)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newCaseShowCmd(g *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "show CASE_ID",
		Short: "Show a case with its evidence and timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.Service.GetCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch format {
			case "json":
				return printJSON(cmd.OutOrStdout(), rec)
			case "table":
				renderCaseDetail(cmd.OutOrStdout(), rec, rt.Service.GatewayURL)
				return nil
			default:
				return fmt.Errorf("invalid format: %s (valid values: table, json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "table", "output format: table or json")
	return cmd
}

func newCaseAddEvidenceCmd(g *globalFlags) *cobra.Command {
	var evType, description string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "add-evidence CASE_ID FILE",
		Short: "Append FILE as evidence to an existing case",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, name, err := readInputFile(args[1])
			if err != nil {
				return err
			}
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			ev, err := rt.Service.AddEvidence(cmd.Context(), ingest.AddEvidenceRequest{
				CaseID:      args[0],
				Content:     content,
				FileName:    name,
				Type:        evType,
				Description: description,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, ev)
			}
			fmt.Fprintln(out, "evidence added")
			fmt.Fprintf(out, "case_id=%s\n", strings.TrimSpace(args[0]))
			fmt.Fprintf(out, "evidence_id=%s\n", ev.EvidenceID)
			fmt.Fprintf(out, "content_id=%s\n", ev.ContentID)
			fmt.Fprintf(out, "file_name=%s\n", ev.FileName)
			return nil
		},
	}
	cmd.Flags().StringVar(&evType, "type", "", "evidence type: audio, document, image or other (default document)")
	cmd.Flags().StringVar(&description, "description", "", "evidence description")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCaseStatusCmd(g *globalFlags) *cobra.Command {
	var note string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status CASE_ID STATUS",
		Short: "Set case status: open, in-progress, under-evaluation or concluded",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Service.SetStatus(cmd.Context(), args[0], args[1], note)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintf(out, "case_id=%s status=%s timeline_entries=%d\n", res.CaseID, res.Status, len(res.Timeline))
			return nil
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "timeline note (default \"Case status updated to <status>\")")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func newCaseVerifyCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "verify CASE_ID",
		Short: "Recompute the timeline hash chain and re-hash stored evidence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := g.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			rec, err := rt.Service.GetCase(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			res := auditverify.VerifyCase(cmd.Context(), *rec, rt.Service.Blobs())
			out := cmd.OutOrStdout()
			if asJSON {
				if err := printJSON(out, res); err != nil {
					return err
				}
			} else {
				printCaseVerify(out, res)
			}
			if !res.OK {
				return fmt.Errorf("case %s failed verification", res.CaseID)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printCaseVerify(out io.Writer, res auditverify.CaseResult) {
	fmt.Fprintln(out, "case verify completed")
	fmt.Fprintf(out, "case_id=%s ok=%t\n", res.CaseID, res.OK)
	tl := res.Timeline
	fmt.Fprintf(out, "timeline_total=%d failed=%d prev_hash_failed=%d chain_hash_failed=%d status_mismatch=%t\n",
		tl.Total, tl.Failed, tl.PrevHashFailed, tl.ChainHashFailed, tl.StatusMismatch)
	for _, f := range tl.Failures {
		fmt.Fprintf(out, "FAIL timeline index=%d message=%s expected_hash=%s actual_hash=%s\n",
			f.Index, f.Message, f.ExpectedChainHash, f.ActualChainHash)
	}
	ev := res.Evidence
	fmt.Fprintf(out, "evidence_total=%d matched=%d mismatch=%d missing=%d errors=%d\n",
		ev.Total, ev.Matched, ev.Mismatch, ev.Missing, ev.Errors)
	for _, it := range ev.Items {
		if it.Status == "ok" {
			continue
		}
		fmt.Fprintf(out, "FAIL evidence %s status=%s content_id=%s computed=%s\n",
			it.EvidenceID, it.Status, it.ContentID, it.ComputedCID)
	}
}

func renderCaseTable(out io.Writer, rows []model.CaseSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Case ID", "Victim", "Status", "Opened", "Updated", "Evidence"})
	for _, c := range rows {
		t.AppendRow(table.Row{
			c.CaseID,
			c.Victim,
			c.Status,
			c.OpenedAt.Local().Format("2006-01-02 15:04:05"),
			c.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			c.EvidenceCount,
		})
	}
	t.Render()
}

func renderCaseDetail(out io.Writer, rec *model.CaseRecord, gatewayURL func(string) string) {
	fmt.Fprintf(out, "case_id=%s status=%s opened_at=%s\n", rec.CaseID, rec.Status, rec.OpenedAt.Format(time.RFC3339))
	if rec.Victim != "" {
		fmt.Fprintf(out, "victim=%s\n", rec.Victim)
	}
	if rec.SimulatedTxID != "" {
		fmt.Fprintf(out, "simulated_tx_id=%s\n", rec.SimulatedTxID)
	}

	ev := table.NewWriter()
	ev.SetOutputMirror(out)
	ev.SetStyle(table.StyleLight)
	ev.SetTitle("Evidence")
	ev.AppendHeader(table.Row{"Evidence ID", "Type", "File", "Size", "Uploaded", "Content ID"})
	for _, e := range rec.Evidence {
		ev.AppendRow(table.Row{
			e.EvidenceID,
			e.Type,
			e.FileName,
			e.SizeBytes,
			e.UploadedAt.Local().Format("2006-01-02 15:04:05"),
			e.ContentID,
		})
	}
	ev.Render()

	tl := table.NewWriter()
	tl.SetOutputMirror(out)
	tl.SetStyle(table.StyleLight)
	tl.SetTitle("Timeline")
	tl.AppendHeader(table.Row{"#", "Time", "Status", "Evidence", "Note"})
	for i, e := range rec.Timeline {
		tl.AppendRow(table.Row{i + 1, e.Timestamp.Local().Format("2006-01-02 15:04:05.000"), e.Status, e.EvidenceCount, e.Note})
	}
	tl.Render()

	if len(rec.Evidence) > 0 {
		fmt.Fprintf(out, "gateway_url=%s\n", gatewayURL(rec.Evidence[0].ContentID))
	}
}
