package store

import (
	"database/sql"
	"fmt"
)

// scanAuditRecord scans an AuditRecord from sql.Rows.
func scanAuditRecord(rows *sql.Rows) (AuditRecord, error) {
	var rec AuditRecord
	var detail sql.NullString
	err := rows.Scan(&rec.ID, &rec.ConversationKey, &rec.Decision, &detail, &rec.CreatedAt)
	if err != nil {
		return rec, fmt.Errorf("scan audit record failed: %w", err)
	}
	rec.Detail = detail.String
	return rec, nil
}
