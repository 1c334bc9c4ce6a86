package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

var (
	// ErrStoreUnavailable wraps underlying database failures. Callers retry
	// through the retry executor and must not assume success.
	ErrStoreUnavailable = errors.New("inventory store unavailable")

	// ErrAssignConflict signals an assign on an account not currently
	// reserved by the caller's order. Under correct atomic reservation this
	// is a bug signal, not a normal race.
	ErrAssignConflict = errors.New("account not reserved by this order")

	// ErrOrderNotFound distinguishes a genuinely absent order from a store
	// outage. Callers create the order only on this error.
	ErrOrderNotFound = errors.New("order not found")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// ReserveAvailable atomically flips up to n available accounts to reserved,
// oldest first, tagging them with orderID. Returns fewer than n when stock is
// short, possibly zero, and never partially fails. The subselect takes row
// locks with SKIP LOCKED so two concurrent callers can never reserve the same
// account.
func (s *Store) ReserveAvailable(ctx context.Context, n int, orderID string) ([]models.InventoryAccount, error) {
	if n <= 0 {
		return []models.InventoryAccount{}, nil
	}

	query := `
		UPDATE inventory_accounts
		SET status = 'reserved', order_id = $1, reserved_at = NOW(), updated_at = NOW()
		WHERE id IN (
			SELECT id FROM inventory_accounts
			WHERE status = 'available'
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`

	var accounts []models.InventoryAccount
	if err := s.db.SelectContext(ctx, &accounts, query, orderID, n); err != nil {
		return nil, storeErr("reserve available", err)
	}
	return accounts, nil
}

// Assign transitions the given accounts from reserved to assigned, stamping
// ownership metadata. Every account must currently be reserved by orderID;
// anything else rolls back and returns ErrAssignConflict.
func (s *Store) Assign(ctx context.Context, emails []string, orderID, customerEmail, domain string) error {
	if len(emails) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storeErr("assign", err)
	}
	defer tx.Rollback()

	query, args, err := sqlx.In(`
		UPDATE inventory_accounts
		SET status = 'assigned', customer_email = ?, domain = ?, assigned_at = NOW(), updated_at = NOW()
		WHERE email IN (?) AND status = 'reserved' AND order_id = ?`,
		customerEmail, domain, emails, orderID)
	if err != nil {
		return storeErr("assign", err)
	}
	query = tx.Rebind(query)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return storeErr("assign", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return storeErr("assign", err)
	}
	if affected != int64(len(emails)) {
		return fmt.Errorf("assign %d of %d accounts for order %s: %w",
			affected, len(emails), orderID, ErrAssignConflict)
	}

	return tx.Commit()
}

// Release returns all accounts still reserved by orderID to the pool,
// clearing ownership metadata. Idempotent: releasing twice, or with nothing
// reserved, is a no-op success.
func (s *Store) Release(ctx context.Context, orderID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_accounts
		SET status = 'available', order_id = NULL, customer_email = NULL,
		    domain = NULL, reserved_at = NULL, updated_at = NOW()
		WHERE order_id = $1 AND status = 'reserved'`,
		orderID)
	if err != nil {
		return 0, storeErr("release", err)
	}
	return res.RowsAffected()
}

// MarkDepleted flags accounts as unusable. Terminal; never reversed.
func (s *Store) MarkDepleted(ctx context.Context, emails []string) error {
	if len(emails) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		"UPDATE inventory_accounts SET status = 'depleted', updated_at = NOW() WHERE email IN (?)",
		emails)
	if err != nil {
		return storeErr("mark depleted", err)
	}
	query = s.db.Rebind(query)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return storeErr("mark depleted", err)
	}
	return nil
}

// AddAccounts bulk-inserts new credentials as available (inventory ingestion).
func (s *Store) AddAccounts(ctx context.Context, accounts []models.InventoryAccount) (int, error) {
	added := 0
	for _, acc := range accounts {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO inventory_accounts (email, password, status, notes, created_at, updated_at)
			VALUES ($1, $2, 'available', $3, NOW(), NOW())
			ON CONFLICT (email) DO NOTHING`,
			acc.Email, acc.Password, acc.Notes)
		if err != nil {
			return added, storeErr("add accounts", err)
		}
		added++
	}
	return added, nil
}

// ReclaimExpiredReservations returns accounts reserved longer than ttl to the
// pool. Covers sagas that crashed before their own release ran.
func (s *Store) ReclaimExpiredReservations(ctx context.Context, ttl time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inventory_accounts
		SET status = 'available', order_id = NULL, customer_email = NULL,
		    domain = NULL, reserved_at = NULL, updated_at = NOW()
		WHERE status = 'reserved' AND reserved_at < NOW() - ($1 * INTERVAL '1 second')`,
		int64(ttl.Seconds()))
	if err != nil {
		return 0, storeErr("reclaim expired reservations", err)
	}
	return res.RowsAffected()
}

// Stats returns the aggregate pool counts. IsLow compares available against
// the externally configured threshold.
func (s *Store) Stats(ctx context.Context, threshold int) (*models.InventoryStats, error) {
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}{}

	err := s.db.SelectContext(ctx, &rows,
		"SELECT status, COUNT(*) AS count FROM inventory_accounts GROUP BY status")
	if err != nil {
		return nil, storeErr("stats", err)
	}

	stats := &models.InventoryStats{Threshold: threshold}
	for _, row := range rows {
		stats.Total += row.Count
		switch models.AccountStatus(row.Status) {
		case models.AccountStatusAvailable:
			stats.Available = row.Count
		case models.AccountStatusReserved:
			stats.Reserved = row.Count
		case models.AccountStatusAssigned:
			stats.Assigned = row.Count
		case models.AccountStatusDepleted:
			stats.Depleted = row.Count
		}
	}
	stats.IsLow = stats.Available < threshold

	return stats, nil
}

// ListAccounts retrieves inventory records for the admin view, newest first.
func (s *Store) ListAccounts(ctx context.Context, limit int) ([]models.InventoryAccount, error) {
	var accounts []models.InventoryAccount
	err := s.db.SelectContext(ctx, &accounts,
		"SELECT * FROM inventory_accounts ORDER BY created_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, storeErr("list accounts", err)
	}
	return accounts, nil
}
