package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"defir/internal/services/auditverify"
	"defir/internal/services/caseexport"
	"defir/internal/services/casereport"
)

func newExportCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export case reports and bundles",
	}
	cmd.AddCommand(newExportPDFCmd(g))
	cmd.AddCommand(newExportZipCmd(g))
	cmd.AddCommand(newExportVerifyCmd())
	return cmd
}

func newExportPDFCmd(g *globalFlags) *cobra.Command {
	var outDir, operator, note string

	cmd := &cobra.Command{
		Use:   "pdf CASE_ID",
		Short: "Generate a PDF case report",
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
			if strings.TrimSpace(outDir) == "" {
				outDir = rt.Config.ExportDir()
			}
			verify := auditverify.VerifyCase(cmd.Context(), *rec, rt.Service.Blobs())
			res, err := casereport.GenerateCasePDF(cmd.Context(), *rec, casereport.Options{
				OutDir:      outDir,
				Operator:    operator,
				Note:        note,
				GatewayBase: rt.Config.GatewayBase,
				Verify:      &verify,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "case pdf generated")
			fmt.Fprintf(out, "case_id=%s\n", res.CaseID)
			fmt.Fprintf(out, "pdf=%s\n", res.PDFPath)
			fmt.Fprintf(out, "pdf_sha256=%s\n", res.PDFSHA256)
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning=%s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "output directory (default <data-dir>/exports)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the report")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the report")
	return cmd
}

func newExportZipCmd(g *globalFlags) *cobra.Command {
	var outDir, operator, note string
	var withPDF bool

	cmd := &cobra.Command{
		Use:   "zip CASE_ID",
		Short: "Generate a ZIP bundle with evidence, manifest.json and hashes.sha256",
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
			if strings.TrimSpace(outDir) == "" {
				outDir = rt.Config.ExportDir()
			}

			var reports []string
			if withPDF {
				verify := auditverify.VerifyCase(cmd.Context(), *rec, rt.Service.Blobs())
				pdfRes, err := casereport.GenerateCasePDF(cmd.Context(), *rec, casereport.Options{
					OutDir:      outDir,
					Operator:    operator,
					Note:        note,
					GatewayBase: rt.Config.GatewayBase,
					Verify:      &verify,
				})
				if err != nil {
					return err
				}
				reports = append(reports, pdfRes.PDFPath)
			}

			res, err := caseexport.GenerateCaseZip(cmd.Context(), *rec, rt.Service.Blobs(), caseexport.ZipOptions{
				ExportDir: outDir,
				Reports:   reports,
				Operator:  operator,
				Note:      note,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "case zip generated")
			fmt.Fprintf(out, "case_id=%s\n", res.CaseID)
			fmt.Fprintf(out, "zip=%s\n", res.ZipPath)
			fmt.Fprintf(out, "zip_sha256=%s\n", res.ZipSHA256)
			fmt.Fprintf(out, "verified=%t\n", res.Verified)
			for _, w := range res.Warnings {
				fmt.Fprintf(out, "warning=%s\n", w)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&outDir, "out-dir", "", "output directory (default <data-dir>/exports)")
	cmd.Flags().StringVar(&operator, "operator", "", "operator name recorded in the manifest")
	cmd.Flags().StringVar(&note, "note", "", "note recorded in the manifest")
	cmd.Flags().BoolVar(&withPDF, "with-pdf", false, "generate a PDF report and include it under reports/")
	return cmd
}

func newExportVerifyCmd() *cobra.Command {
	var zipPath string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify an exported ZIP bundle offline against its hashes.sha256",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(zipPath) == "" {
				return fmt.Errorf("--zip is required")
			}
			res, err := caseexport.VerifyZip(zipPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "case zip verify completed")
			fmt.Fprintf(out, "zip=%s\n", zipPath)
			fmt.Fprintf(out, "files_total=%d ok=%d failed=%d\n", res.Total, res.OK, res.Failed)
			for _, it := range res.Items {
				if it.Status == "ok" {
					continue
				}
				fmt.Fprintf(out, "FAIL %s status=%s expected=%s actual=%s\n", it.Path, it.Status, it.Expected, it.Actual)
			}
			if tl := res.Timeline; tl != nil {
				fmt.Fprintf(out, "timeline_total=%d failed=%d prev_hash_failed=%d chain_hash_failed=%d\n",
					tl.Total, tl.Failed, tl.PrevHashFailed, tl.ChainHashFailed)
			}
			if !res.Passed() {
				return fmt.Errorf("case zip verify failed: %d files mismatch/missing", res.Failed)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&zipPath, "zip", "", "path to the exported zip (required)")
	return cmd
}
