package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/fhirconverter/internal/config"
	"github.com/ehr/fhirconverter/internal/domain/convert"
	"github.com/ehr/fhirconverter/internal/platform/db"
	"github.com/ehr/fhirconverter/internal/platform/hl7v2"
	"github.com/ehr/fhirconverter/internal/platform/templatestore"
)

// cliConfig loads configuration for the offline commands. It skips the
// server checks in Validate and applies --template-dir when given.
func cliConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Lookup("template-dir") != nil {
		if dir, _ := cmd.Flags().GetString("template-dir"); dir != "" {
			cfg.TemplateSource = config.SourceFS
			cfg.TemplateDir = dir
		}
	}
	return cfg, nil
}

// cliLogger writes to stderr so command output on stdout stays clean.
func cliLogger(cfg *config.Config) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(cfg.Level())
}

type conversionOutput struct {
	Result    map[string]interface{} `json:"result"`
	TraceInfo *hl7v2.TraceInfo       `json:"traceInfo,omitempty"`
}

func convertCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert one input document into a FHIR bundle",
		Example: `  fhir-converter convert --type hl7v2 --input adt.hl7
  cat ccd.xml | fhir-converter convert --type ccda --template CCD --output bundle.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataTypeFlag, _ := cmd.Flags().GetString("type")
			templateName, _ := cmd.Flags().GetString("template")
			inputPath, _ := cmd.Flags().GetString("input")
			outputPath, _ := cmd.Flags().GetString("output")
			trace, _ := cmd.Flags().GetBool("trace")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			dataType, err := convert.ParseDataType(dataTypeFlag)
			if err != nil {
				return err
			}
			input, err := readInput(cmd.InOrStdin(), inputPath)
			if err != nil {
				return err
			}

			cfg, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, cliLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.converter.Convert(ctx, convert.Request{
				DataType:     dataType,
				RootTemplate: templateName,
				Input:        input,
				Timeout:      timeout,
				Trace:        trace,
			})
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(conversionOutput{Result: res.Bundle, TraceInfo: res.TraceInfo}, "", "  ")
			if err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), outputPath, append(out, '\n'))
		},
	}
	cmd.Flags().StringP("type", "t", "", "Input data type: hl7v2, ccda or json")
	cmd.Flags().String("template", "", "Root template name (default: selected by data and message type)")
	cmd.Flags().StringP("input", "i", "-", "Input file, - for stdin")
	cmd.Flags().StringP("output", "o", "-", "Output file, - for stdout")
	cmd.Flags().Bool("trace", false, "Include unused HL7v2 segments in the output")
	cmd.Flags().String("template-dir", "", "Read templates from this directory")
	cmd.Flags().Duration("timeout", 0, "Render timeout (default: RENDER_TIMEOUT)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func readInput(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

func writeOutput(stdout io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

type templateWriter interface {
	Put(ctx context.Context, name, content string) error
}

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect and manage conversion templates",
	}
	cmd.PersistentFlags().String("template-dir", "", "Read templates from this directory")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			check, _ := cmd.Flags().GetBool("check")

			cfg, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, cliLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			lister, ok := a.store.(templatestore.Lister)
			if !ok {
				return fmt.Errorf("template source %q cannot be listed", cfg.TemplateSource)
			}
			names, err := lister.List(ctx)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			if !check {
				return nil
			}

			n, err := a.renderer.Precompile(ctx, lister)
			fmt.Fprintf(cmd.OutOrStdout(), "compiled %d of %d template(s)\n", n, len(names))
			return err
		},
	}
	listCmd.Flags().Bool("check", false, "Compile every template and report failures")
	cmd.AddCommand(listCmd)

	pushCmd := &cobra.Command{
		Use:   "push <name> <file>",
		Short: "Store a template in the configured template source",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSuffix(args[0], templatestore.Extension)
			if err := templatestore.ValidateName(name); err != nil {
				return err
			}
			content, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read template: %w", err)
			}

			cfg, err := cliConfig(cmd)
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := newApp(ctx, cfg, cliLogger(cfg))
			if err != nil {
				return err
			}
			defer a.Close()

			w, ok := a.store.(templateWriter)
			if !ok {
				return fmt.Errorf("template source %q is read-only", cfg.TemplateSource)
			}
			if err := w.Put(ctx, name, string(content)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored template %s\n", name)
			return nil
		},
	}
	cmd.AddCommand(pushCmd)

	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for the pg template store",
	}

	openMigrator := func(cmd *cobra.Command) (*db.Migrator, func(), error) {
		cfg, err := cliConfig(cmd)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required")
		}
		pool, err := db.NewPool(context.Background(), db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		return db.NewMigrator(pool, db.Migrations()), pool.Close, nil
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, done, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()

			count, err := migrator.Up(context.Background())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, done, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer done()

			statuses, err := migrator.Status(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printStatuses(cmd.OutOrStdout(), statuses)
			return nil
		},
	})

	return cmd
}

func printStatuses(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}
