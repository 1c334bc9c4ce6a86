package store

import (
	"context"

	"github.com/hardik25812/caidene-order-sub000/internal/models"
)

// InsertAlert appends an operator notification. Alerts are append-only; only
// the read flag ever changes, and only from the admin side.
func (s *Store) InsertAlert(ctx context.Context, alert *models.Alert) error {
	query := `
		INSERT INTO admin_alerts (id, type, message, metadata, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	err := s.db.QueryRowxContext(ctx, query,
		alert.ID, alert.Type, alert.Message, alert.Metadata, alert.Status).
		Scan(&alert.CreatedAt)
	if err != nil {
		return storeErr("insert alert", err)
	}
	return nil
}

// ListAlerts returns alerts filtered by read status, newest first. An empty
// status returns everything.
func (s *Store) ListAlerts(ctx context.Context, status string, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	var err error

	if status == "" {
		err = s.db.SelectContext(ctx, &alerts,
			"SELECT * FROM admin_alerts ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		err = s.db.SelectContext(ctx, &alerts,
			"SELECT * FROM admin_alerts WHERE status = $1 ORDER BY created_at DESC LIMIT $2",
			status, limit)
	}
	if err != nil {
		return nil, storeErr("list alerts", err)
	}
	return alerts, nil
}

// MarkAlertRead flips an alert's read flag.
func (s *Store) MarkAlertRead(ctx context.Context, alertID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE admin_alerts SET status = $1 WHERE id = $2",
		models.AlertStatusRead, alertID)
	if err != nil {
		return storeErr("mark alert read", err)
	}
	return nil
}
