package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/surveyline-labs/surveyline-go/internal/exports"
	"github.com/surveyline-labs/surveyline-go/internal/identity"
	"github.com/surveyline-labs/surveyline-go/internal/platform/env"
	"github.com/surveyline-labs/surveyline-go/internal/platform/postgres"
	repopg "github.com/surveyline-labs/surveyline-go/internal/repo/postgres"
	"github.com/surveyline-labs/surveyline-go/internal/stages"
	"github.com/surveyline-labs/surveyline-go/internal/traced"
)

var (
	codeSchemePath string
	codedField     string
	targetValues   []string
	exclusionPath  string
	exportOutput   string
)

var exportContactsCmd = &cobra.Command{
	Use:   "export-contacts",
	Short: "Export contacts whose coded location matches the target values",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportLocationContacts(cmd.Context())
	},
}

var exportWeeklyContactsCmd = &cobra.Command{
	Use:   "export-weekly-contacts",
	Short: "Export every consenting contact for the weekly advert group",
	RunE: func(cmd *cobra.Command, args []string) error {
		return exportWeeklyContacts(cmd.Context())
	},
}

func init() {
	exportContactsCmd.Flags().StringVar(&codeSchemePath, "code-scheme", "", "path to the location code scheme JSON")
	exportContactsCmd.Flags().StringVar(&codedField, "coded-field", "county_coded", "individuals field holding the location code id")
	exportContactsCmd.Flags().StringSliceVar(&targetValues, "targets",
		env.Strings("SURVEYLINE_EXPORT_TARGET_LOCATIONS", nil), "location string values to include")
	exportContactsCmd.Flags().StringVarP(&exportOutput, "output", "o", "contacts.csv", "path to write the contacts CSV to")
	exportContactsCmd.MarkFlagRequired("code-scheme")

	exportWeeklyContactsCmd.Flags().StringVar(&exclusionPath, "exclusion-list", "", "optional file of uids to exclude, one per line")
	exportWeeklyContactsCmd.Flags().StringVarP(&exportOutput, "output", "o", "contacts.csv", "path to write the contacts CSV to")
}

func exportLocationContacts(ctx context.Context) error {
	logger := newLogger(os.Stderr)
	if len(targetValues) == 0 {
		return fmt.Errorf("no target locations given; set --targets or SURVEYLINE_EXPORT_TARGET_LOCATIONS")
	}
	cfg, _, err := loadPipeline()
	if err != nil {
		return err
	}

	scheme, err := exports.LoadCodeScheme(codeSchemePath)
	if err != nil {
		return err
	}

	individuals, err := traced.ReadFile(filepath.Join(dataRoot, stages.IndividualsTracedJSONL))
	if err != nil {
		return err
	}
	uids := exports.LocationContacts(individuals, scheme, codedField, targetValues)
	logger.Info("found contacts in target locations", "contacts", len(uids), "targets", targetValues)

	return writeContacts(ctx, cfg.UIDTable.TableName, cfg.UIDTable.UIDPrefix, uids, logger)
}

func exportWeeklyContacts(ctx context.Context) error {
	logger := newLogger(os.Stderr)
	cfg, _, err := loadPipeline()
	if err != nil {
		return err
	}

	var exclude []string
	if exclusionPath != "" {
		exclude, err = readLines(exclusionPath)
		if err != nil {
			return err
		}
		logger.Info("loaded exclusion list", "uids", len(exclude))
	}

	individuals, err := traced.ReadFile(filepath.Join(dataRoot, stages.IndividualsTracedJSONL))
	if err != nil {
		return err
	}
	uids := exports.WeeklyContacts(individuals, exclude)
	logger.Info("found consenting contacts", "contacts", len(uids))

	return writeContacts(ctx, cfg.UIDTable.TableName, cfg.UIDTable.UIDPrefix, uids, logger)
}

func writeContacts(ctx context.Context, tableName, uidPrefix string, uids []string, logger *slog.Logger) error {
	pgCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		return err
	}
	db, err := postgres.Open(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	resolver, err := identity.NewTableResolver(repopg.NewUIDStore(db), tableName, uidPrefix)
	if err != nil {
		return err
	}

	urns, skipped, err := exports.ResolveURNs(ctx, resolver, uids)
	if err != nil {
		return err
	}
	if len(skipped) > 0 {
		logger.Warn("some uids could not be re-identified", "skipped", len(skipped))
	}

	if err := exports.WriteContactsCSV(exportOutput, urns); err != nil {
		return err
	}
	logger.Info("wrote contacts", "path", exportOutput, "contacts", len(urns))
	return nil
}

func readLines(path string) ([]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	lines := make([]string, 0)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}
