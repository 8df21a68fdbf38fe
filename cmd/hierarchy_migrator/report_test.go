package main

import (
	"bytes"
	"testing"

	"github.com/SscSPs/backup_orchestrator/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func sampleReport() *domain.MigrationReport {
	return &domain.MigrationReport{
		DryRun:   true,
		Users:    domain.MigrationStats{Processed: 3, Migrated: 2, Skipped: 1},
		Accounts: domain.MigrationStats{Processed: 2, Migrated: 1, Skipped: 0, Errors: 1},
		Mismatches: []domain.MembershipMismatch{
			{UserID: "u1", AccountID: "a1", MembershipCount: 0},
		},
		PlannedActions: []string{"backfill account a1"},
	}
}

func TestRenderReport_Table(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, sampleReport(), outputTable))

	out := buf.String()
	assert.Contains(t, out, "DRY RUN")
	assert.Contains(t, out, "PROCESSED")
	assert.Contains(t, out, "accounts")
	assert.Contains(t, out, "u1")
	assert.Contains(t, out, "planned: backfill account a1")
}

func TestRenderReport_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderReport(&buf, sampleReport(), outputYAML))

	var decoded domain.MigrationReport
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, *sampleReport(), decoded)
}
