package main

import (
	"fmt"
	"io"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

func renderReport(w io.Writer, report *domain.MigrationReport, format string) error {
	if format == outputYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(report); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return enc.Close()
	}

	if report.DryRun {
		fmt.Fprintln(w, "DRY RUN: nothing was written")
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Table", "Processed", "Migrated", "Skipped", "Errors"})
	tw.AppendRow(table.Row{"users", report.Users.Processed, report.Users.Migrated, report.Users.Skipped, report.Users.Errors})
	tw.AppendRow(table.Row{"accounts", report.Accounts.Processed, report.Accounts.Migrated, report.Accounts.Skipped, report.Accounts.Errors})
	tw.Render()

	if len(report.Mismatches) > 0 {
		mt := table.NewWriter()
		mt.SetOutputMirror(w)
		mt.SetTitle("Membership mismatches")
		mt.AppendHeader(table.Row{"User", "Account", "Memberships"})
		for _, m := range report.Mismatches {
			mt.AppendRow(table.Row{m.UserID, m.AccountID, m.MembershipCount})
		}
		mt.Render()
	}
	for _, id := range report.UnmigratedAccounts {
		fmt.Fprintf(w, "account %s still has no hierarchy\n", id)
	}
	for _, action := range report.PlannedActions {
		fmt.Fprintln(w, "planned:", action)
	}
	return nil
}
