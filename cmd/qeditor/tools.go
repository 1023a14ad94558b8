package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/qeditor/internal/config"
	"github.com/ehr/qeditor/internal/domain/editor"
	"github.com/ehr/qeditor/internal/domain/mapper"
	"github.com/ehr/qeditor/internal/domain/translation"
	"github.com/ehr/qeditor/internal/domain/validation"
	"github.com/ehr/qeditor/internal/platform/fhir"
	"github.com/ehr/qeditor/internal/platform/terminology"
)

// fileSession runs the editor service over a single file with an in-memory
// store, the same code path the API uses.
type fileSession struct {
	svc *editor.Service
	id  string
	log zerolog.Logger
}

func openFile(ctx context.Context, path string, opts ...editor.Option) (*fileSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel)

	svc := editor.NewService(editor.NewSnapshotRepoMemory(), mapper.New(log), log, opts...)
	snap, err := svc.Import(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &fileSession{svc: svc, id: snap.ID, log: log}, nil
}

// writeOutput writes data to path, or to the command output when path is
// empty or "-".
func writeOutput(cmd *cobra.Command, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <questionnaire.json>",
		Short: "Normalize a Questionnaire or Bundle into its wire document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			f, err := openFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			doc, err := f.svc.Generate(cmd.Context(), f.id)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, append(doc, '\n'))
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	return cmd
}

func mapCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "map <questionnaire.json>",
		Short: "Print the editor state of a Questionnaire or Bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			f, err := openFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			snap, err := f.svc.Get(cmd.Context(), f.id)
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(snap.State, "", "  ")
			if err != nil {
				return fmt.Errorf("encode state: %w", err)
			}
			return writeOutput(cmd, out, append(data, '\n'))
		},
	}
	cmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	return cmd
}

func validateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <questionnaire.json>",
		Short: "Check a Questionnaire and print an OperationOutcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lang, _ := cmd.Flags().GetString("lang")
			f, err := openFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			errs, err := f.svc.Validate(cmd.Context(), f.id, lang)
			if err != nil {
				return err
			}
			data, err := fhir.MarshalIndent(validation.Outcome(errs))
			if err != nil {
				return err
			}
			if err := writeOutput(cmd, "", append(data, '\n')); err != nil {
				return err
			}
			if validation.HasErrors(errs) {
				return fmt.Errorf("%s has validation errors", args[0])
			}
			return nil
		},
	}
	cmd.Flags().String("lang", "en-GB", "Language of the validation messages")
	return cmd
}

func translationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "translations",
		Short: "Export or import translation sheets",
	}

	exportCmd := &cobra.Command{
		Use:   "export <questionnaire.json>",
		Short: "Write the translation sheet of a questionnaire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			langs, _ := cmd.Flags().GetStringSlice("lang")
			f, err := openFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(langs) == 0 {
				langs = nil
			}
			table, err := f.svc.ExportTranslations(cmd.Context(), f.id, langs)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := translation.WriteCSV(&buf, table); err != nil {
				return err
			}
			return writeOutput(cmd, out, buf.Bytes())
		},
	}
	exportCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	exportCmd.Flags().StringSlice("lang", nil, "Languages to export (default all)")
	cmd.AddCommand(exportCmd)

	importCmd := &cobra.Command{
		Use:   "import <questionnaire.json> <sheet.csv>",
		Short: "Apply a translation sheet and write the resulting document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			f, err := openFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			sheet, err := os.Open(args[1])
			if err != nil {
				return fmt.Errorf("open %s: %w", args[1], err)
			}
			defer sheet.Close()

			_, result, err := f.svc.ImportTranslations(cmd.Context(), f.id, sheet)
			if err != nil {
				return err
			}
			if len(result.Skipped) > 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "skipped %d row(s): %s\n", len(result.Skipped), strings.Join(result.Skipped, ", "))
			}
			doc, err := f.svc.Generate(cmd.Context(), f.id)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, append(doc, '\n'))
		},
	}
	importCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	cmd.AddCommand(importCmd)

	return cmd
}

func valueSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "valueset",
		Short: "Manage contained value sets",
	}

	fetchCmd := &cobra.Command{
		Use:   "fetch <questionnaire.json> <url>",
		Short: "Download ValueSets into a questionnaire and write the resulting document",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := terminology.New(terminology.Options{
				Timeout:  cfg.TerminologyTimeout,
				RetryMax: cfg.TerminologyRetryMax,
			}, zerolog.New(io.Discard))

			f, err := openFile(cmd.Context(), args[0], editor.WithTerminology(client))
			if err != nil {
				return err
			}
			_, count, err := f.svc.FetchValueSets(cmd.Context(), f.id, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "imported %d value set(s)\n", count)

			doc, err := f.svc.Generate(cmd.Context(), f.id)
			if err != nil {
				return err
			}
			return writeOutput(cmd, out, append(doc, '\n'))
		},
	}
	fetchCmd.Flags().StringP("out", "o", "", "Output file (default stdout)")
	cmd.AddCommand(fetchCmd)

	return cmd
}
