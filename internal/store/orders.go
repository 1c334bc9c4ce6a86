package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hardik25812/caidene-order-sub000/internal/models"
)

// CreateOrder inserts a new order in its initial fulfillment state.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_email, domains, fulfillment_status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		order.ID, order.CustomerEmail, order.Domains, order.FulfillmentStatus).
		Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return storeErr("create order", err)
	}
	return nil
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, storeErr("get order", err)
	}
	return &order, nil
}

// GetOrdersByCustomer retrieves a customer's orders, newest first.
func (s *Store) GetOrdersByCustomer(ctx context.Context, customerEmail string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE customer_email = $1 ORDER BY created_at DESC", customerEmail)
	if err != nil {
		return nil, storeErr("get orders by customer", err)
	}
	return orders, nil
}

// SetFulfillmentStatus updates only the order-level fulfillment status.
func (s *Store) SetFulfillmentStatus(ctx context.Context, orderID, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET fulfillment_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	if err != nil {
		return storeErr("set fulfillment status", err)
	}
	return nil
}

// SaveFulfillmentOutcome persists the merged per-domain results, the
// aggregate status, the collected nameserver records and the DNS status after
// a saga run.
func (s *Store) SaveFulfillmentOutcome(ctx context.Context, orderID string,
	results models.DomainResultList, status string,
	nameservers models.NameserverRecordList, dnsStatus *string) error {

	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET fulfillment_results = $1, fulfillment_status = $2,
		    nameservers = $3, dns_status = $4, updated_at = NOW()
		WHERE id = $5`,
		results, status, nameservers, dnsStatus, orderID)
	if err != nil {
		return storeErr("save fulfillment outcome", err)
	}
	return nil
}

// MarkNeedsReconciliation flags an order whose compensation failed so an
// operator can reconcile the pool manually.
func (s *Store) MarkNeedsReconciliation(ctx context.Context, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET needs_reconciliation = TRUE, updated_at = NOW() WHERE id = $1",
		orderID)
	if err != nil {
		return storeErr("mark needs reconciliation", err)
	}
	return nil
}

// ListPendingDNSVerification selects every order awaiting DNS propagation.
func (s *Store) ListPendingDNSVerification(ctx context.Context) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT * FROM orders
		WHERE dns_status = $1 AND fulfillment_status IN ($2, $3)
		ORDER BY created_at`,
		models.DNSStatusPendingVerification,
		models.FulfillmentStatusCompleted, models.FulfillmentStatusPartial)
	if err != nil {
		return nil, storeErr("list pending dns verification", err)
	}
	return orders, nil
}

// SaveDNSVerification persists per-record verification progress. When the
// order is fully verified, dnsStatus and fulfillmentStatus carry the new
// terminal values; otherwise they are nil and only progress is stored, so the
// next poll cycle resumes where this one left off.
func (s *Store) SaveDNSVerification(ctx context.Context, orderID string,
	records models.NameserverRecordList, dnsStatus, fulfillmentStatus *string) error {

	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET nameservers = $1,
		    dns_status = COALESCE($2, dns_status),
		    fulfillment_status = COALESCE($3, fulfillment_status),
		    dns_last_checked = NOW(), updated_at = NOW()
		WHERE id = $4`,
		records, dnsStatus, fulfillmentStatus, orderID)
	if err != nil {
		return storeErr("save dns verification", err)
	}
	return nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, storeErr("is event processed", err)
	}
	return exists, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return storeErr("mark event processed", err)
	}
	return nil
}
