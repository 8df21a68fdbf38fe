package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

var bytesPerGB = decimal.NewFromInt(1 << 30)

// UsageSummary aggregates completed runs of an account since a point in time.
type UsageSummary struct {
	AccountID        string          `json:"accountID"`
	Since            time.Time       `json:"since"`
	RunCount         int64           `json:"runCount"`
	RecordsProcessed int64           `json:"recordsProcessed"`
	FilesProcessed   int64           `json:"filesProcessed"`
	BytesProcessed   int64           `json:"bytesProcessed"`
	DataVolumeGB     decimal.Decimal `json:"dataVolumeGB"`
}

// Add folds a completed run into the summary.
func (u *UsageSummary) Add(r RunResult) {
	u.RunCount++
	u.RecordsProcessed += r.RecordsProcessed
	u.FilesProcessed += r.FilesProcessed
	u.BytesProcessed += r.BytesProcessed
	u.DataVolumeGB = decimal.NewFromInt(u.BytesProcessed).Div(bytesPerGB).Round(3)
}

// SetTotals replaces the summary counters with pre-aggregated totals.
func (u *UsageSummary) SetTotals(runCount int64, totals RunResult) {
	u.RunCount = runCount
	u.RecordsProcessed = totals.RecordsProcessed
	u.FilesProcessed = totals.FilesProcessed
	u.BytesProcessed = totals.BytesProcessed
	u.DataVolumeGB = decimal.NewFromInt(u.BytesProcessed).Div(bytesPerGB).Round(3)
}
