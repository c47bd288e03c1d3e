package store

import (
	"database/sql"
	"fmt"

	"github.com/costbridge/costbridge/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// jobLogColumns is the select list shared by every job log query.
const jobLogColumns = `job_id, start_timestamp, end_timestamp, job_name, job_status, user_id, is_online, request_body, response_body, scheduler_job_id, scheduler_schedule_id, scheduler_run_id`

// messageColumns is the select list shared by every message log query.
const messageColumns = `message_id, timestamp, job_id, severity, text, details, operation, object_type, object_id`

// rowScanner abstracts sql.Row and sql.Rows so one scanner serves both.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanJobLog scans a JobLogEntry from a row produced with jobLogColumns.
func scanJobLog(row rowScanner) (models.JobLogEntry, error) {
	var e models.JobLogEntry
	var endTime sql.NullTime
	var userID, requestBody, responseBody, schedJobID, scheduleID, runID sql.NullString
	err := row.Scan(
		&e.JobID, &e.StartTime, &endTime, &e.JobName, &e.Status, &userID,
		&e.IsOnline, &requestBody, &responseBody, &schedJobID, &scheduleID, &runID,
	)
	if err != nil {
		return e, err
	}
	if endTime.Valid {
		t := endTime.Time
		e.EndTime = &t
	}
	e.UserID = userID.String
	e.RequestBody = requestBody.String
	e.ResponseBody = responseBody.String
	e.SchedulerJobID = schedJobID.String
	e.ScheduleID = scheduleID.String
	e.RunID = runID.String
	return e, nil
}

// scanMessage scans a Message from a row produced with messageColumns.
func scanMessage(row rowScanner) (models.Message, error) {
	var m models.Message
	var jobID sql.NullInt64
	var details, operation, objectType, objectID sql.NullString
	err := row.Scan(
		&m.ID, &m.Timestamp, &jobID, &m.Severity, &m.Text,
		&details, &operation, &objectType, &objectID,
	)
	if err != nil {
		return m, fmt.Errorf("scan message failed: %w", err)
	}
	if jobID.Valid {
		id := jobID.Int64
		m.JobID = &id
	}
	m.Details = details.String
	m.Operation = operation.String
	m.ObjectType = objectType.String
	m.ObjectID = objectID.String
	return m, nil
}

// collectJobLogs drains rows produced with jobLogColumns.
func collectJobLogs(rows *sql.Rows) ([]models.JobLogEntry, error) {
	defer rows.Close()
	var out []models.JobLogEntry
	for rows.Next() {
		e, err := scanJobLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job log failed: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("job log iteration failed: %w", err)
	}
	return out, nil
}

// collectMessages drains rows produced with messageColumns.
func collectMessages(rows *sql.Rows) ([]models.Message, error) {
	defer rows.Close()
	var out []models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("message iteration failed: %w", err)
	}
	return out, nil
}
