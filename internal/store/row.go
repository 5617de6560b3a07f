package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/cuongbtq/vendordispatch/internal/job"
)

// jobRow is the sqlx scan target for the jobs table; nullable columns use
// database/sql wrapper types, then translate to job.Job's pointer/raw-json
// fields on the way out.
type jobRow struct {
	RequestID string         `db:"request_id"`
	Status    job.Status     `db:"status"`
	Payload   []byte         `db:"payload"`
	Result    []byte         `db:"result"`
	Error     sql.NullString `db:"error"`
	Vendor    sql.NullString `db:"vendor"`
	CreatedAt time.Time      `db:"created_at"`
	UpdatedAt time.Time      `db:"updated_at"`
}

func (r jobRow) toJob() *job.Job {
	j := &job.Job{
		RequestID: r.RequestID,
		Status:    r.Status,
		Payload:   json.RawMessage(r.Payload),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Result) > 0 {
		j.Result = json.RawMessage(r.Result)
	}
	if r.Error.Valid {
		j.Error = &r.Error.String
	}
	if r.Vendor.Valid {
		j.Vendor = &r.Vendor.String
	}
	return j
}

func toJobs(rows []jobRow) []job.Job {
	out := make([]job.Job, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r.toJob())
	}
	return out
}
