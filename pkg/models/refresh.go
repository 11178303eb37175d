package models

import "github.com/google/uuid"

// RefreshResult is the outcome of refreshing one connection.
type RefreshResult struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	Success      bool      `json:"success"`
	Skipped      bool      `json:"skipped,omitempty"` // Served from the recency marker
	TotalUsers   *int64    `json:"total_users,omitempty"`
	PaidUsers    *int64    `json:"paid_users,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// RefreshReport summarizes a batch refresh.
type RefreshReport struct {
	Total      int             `json:"total"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Results    []RefreshResult `json:"results"`
}

// NewRefreshReport tallies results into a report.
func NewRefreshReport(results []RefreshResult) *RefreshReport {
	report := &RefreshReport{
		Total:   len(results),
		Results: results,
	}
	if report.Results == nil {
		report.Results = []RefreshResult{}
	}
	for _, r := range results {
		if r.Success {
			report.Successful++
		} else {
			report.Failed++
		}
	}
	return report
}

// FailedIDs returns the IDs of connections that failed to refresh.
func (r *RefreshReport) FailedIDs() []string {
	var ids []string
	for _, res := range r.Results {
		if !res.Success {
			ids = append(ids, res.ConnectionID.String())
		}
	}
	return ids
}
