package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/models"
	"github.com/hardik25812/caidene-order-sub000/internal/provisioner"
	"github.com/hardik25812/caidene-order-sub000/internal/retry"
	"github.com/hardik25812/caidene-order-sub000/internal/store"
	"github.com/hardik25812/caidene-order-sub000/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientInventory marks a domain that could not be fulfilled
	// because the pool ran dry. It is recorded on the domain result, never
	// thrown.
	ErrInsufficientInventory = errors.New("insufficient inventory")

	// ErrRollbackFailed marks a compensation release that failed after
	// retries. The order is flagged for manual reconciliation.
	ErrRollbackFailed = errors.New("failed to release reserved accounts")
)

// InventoryStore is the slice of the store the saga mutates. Reservation must
// be atomic at the store; the coordinator never does read-then-write on the
// pool.
type InventoryStore interface {
	ReserveAvailable(ctx context.Context, n int, orderID string) ([]models.InventoryAccount, error)
	Assign(ctx context.Context, emails []string, orderID, customerEmail, domain string) error
	Release(ctx context.Context, orderID string) (int64, error)
	Stats(ctx context.Context, threshold int) (*models.InventoryStats, error)
}

// OrderStore persists order state between saga runs and poll cycles.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	SetFulfillmentStatus(ctx context.Context, orderID, status string) error
	SaveFulfillmentOutcome(ctx context.Context, orderID string, results models.DomainResultList,
		status string, nameservers models.NameserverRecordList, dnsStatus *string) error
	MarkNeedsReconciliation(ctx context.Context, orderID string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// AlertStore is the append-only operator notification sink.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
}

// Provisioner is the external tenant-provisioning API.
type Provisioner interface {
	AddOrder(ctx context.Context, req provisioner.AddOrderRequest) (string, error)
	GetNameservers(ctx context.Context, providerOrderID string) ([]string, error)
}

// EventPublisher publishes fulfillment outcomes for downstream consumers.
type EventPublisher interface {
	PublishOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error
}

// FulfillmentService coordinates the per-order fulfillment saga: for each
// ordered domain, reserve a credential, provision the remote tenant, assign
// the credential, record the result; release anything still reserved at the
// end of the run.
type FulfillmentService struct {
	inventory    InventoryStore
	orders       OrderStore
	alerts       AlertStore
	provisioner  Provisioner
	publisher    EventPublisher
	retryPolicy  retry.Policy
	lowThreshold int
	logger       *zap.Logger
}

// NewFulfillmentService creates a new fulfillment saga coordinator.
func NewFulfillmentService(
	inventory InventoryStore,
	orders OrderStore,
	alerts AlertStore,
	prov Provisioner,
	publisher EventPublisher,
	retryPolicy retry.Policy,
	lowThreshold int,
) *FulfillmentService {
	return &FulfillmentService{
		inventory:    inventory,
		orders:       orders,
		alerts:       alerts,
		provisioner:  prov,
		publisher:    publisher,
		retryPolicy:  retryPolicy,
		lowThreshold: lowThreshold,
		logger:       util.GetLogger(),
	}
}

// FulfillmentOutcome is the summary returned to the trigger. The saga never
// propagates per-domain errors past this point; total failure is signalled by
// the failed status.
type FulfillmentOutcome struct {
	OrderID           string                      `json:"order_id"`
	FulfillmentStatus string                      `json:"fulfillment_status"`
	DNSStatus         *string                     `json:"dns_status,omitempty"`
	Results           models.DomainResultList     `json:"results"`
	Nameservers       models.NameserverRecordList `json:"nameservers"`
	Processed         int                         `json:"processed"`
}

// HandlePaymentConfirmed is the entry point for the payment-confirmation
// event. It creates the order when it does not exist yet and runs the saga.
// Duplicate delivery is safe: processed events are skipped, and a re-run only
// touches domains without a completed result.
func (fs *FulfillmentService) HandlePaymentConfirmed(ctx context.Context, event *models.PaymentSucceededEvent) error {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.HandlePaymentConfirmed")
	defer span.End()

	processed, err := fs.orders.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		fs.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	if _, err := fs.orders.GetOrderByID(ctx, event.OrderID); err != nil {
		// A store outage must not be mistaken for a missing order.
		if !errors.Is(err, store.ErrOrderNotFound) {
			return fmt.Errorf("failed to load order: %w", err)
		}
		order := &models.Order{
			ID:                event.OrderID,
			CustomerEmail:     event.CustomerEmail,
			Domains:           event.Domains,
			FulfillmentStatus: models.FulfillmentStatusPending,
		}
		if err := fs.orders.CreateOrder(ctx, order); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
	}

	if _, err := fs.FulfillOrder(ctx, event.OrderID); err != nil {
		return err
	}

	if err := fs.orders.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		fs.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}

// FulfillOrder runs the saga over every domain of the order that has no
// completed result yet.
func (fs *FulfillmentService) FulfillOrder(ctx context.Context, orderID string) (*FulfillmentOutcome, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.FulfillOrder")
	defer span.End()

	return fs.run(ctx, orderID, false)
}

// RetryOrder re-runs the saga over the subset of domains whose existing
// result is missing or failed. Completed entries are never touched, which
// makes external retriggering safe.
func (fs *FulfillmentService) RetryOrder(ctx context.Context, orderID string) (*FulfillmentOutcome, error) {
	ctx, span := util.StartSpan(ctx, "FulfillmentService.RetryOrder")
	defer span.End()

	return fs.run(ctx, orderID, true)
}

func (fs *FulfillmentService) run(ctx context.Context, orderID string, isRetry bool) (*FulfillmentOutcome, error) {
	start := time.Now()
	defer func() {
		util.FulfillmentLatency.Observe(time.Since(start).Seconds())
	}()

	order, err := fs.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	pending := pendingDomains(order)
	if len(pending) == 0 {
		fs.logger.Info("All domains already fulfilled", zap.String("order_id", orderID))
		return fs.outcome(order, 0), nil
	}

	if err := fs.orders.SetFulfillmentStatus(ctx, orderID, models.FulfillmentStatusProcessing); err != nil {
		fs.logger.Error("Failed to mark order processing", zap.Error(err))
	}

	fs.logger.Info("Starting fulfillment run",
		zap.String("order_id", orderID),
		zap.Int("domains", len(pending)),
		zap.Bool("retry", isRetry))

	newResults := make([]models.DomainResult, 0, len(pending))
	stillReserved := make(map[string]struct{})

	for _, entry := range pending {
		result := fs.fulfillDomain(ctx, order, entry, stillReserved, isRetry)
		util.DomainsFulfilledTotal.WithLabelValues(result.Status).Inc()
		newResults = append(newResults, result)
	}

	fs.compensate(ctx, orderID, stillReserved)

	merged := mergeResults(order.FulfillmentResults, newResults)
	status := aggregateStatus(merged)
	records := mergeNameserverRecords(order.Nameservers, merged)

	var dnsStatus *string
	switch {
	case order.DNSStatus != nil && *order.DNSStatus == models.DNSStatusVerified:
		dnsStatus = order.DNSStatus
	case len(records) > 0:
		pendingVerification := models.DNSStatusPendingVerification
		dnsStatus = &pendingVerification
	}

	if err := fs.orders.SaveFulfillmentOutcome(ctx, orderID, merged, status, records, dnsStatus); err != nil {
		return nil, fmt.Errorf("failed to save fulfillment outcome: %w", err)
	}

	util.OrdersFulfilledTotal.WithLabelValues(status).Inc()
	fs.logger.Info("Fulfillment run finished",
		zap.String("order_id", orderID),
		zap.String("status", status),
		zap.Int("processed", len(pending)))

	fs.publishOutcome(ctx, orderID, status, merged)
	fs.checkLowInventory(ctx, orderID)

	order.FulfillmentResults = merged
	order.FulfillmentStatus = status
	order.Nameservers = records
	order.DNSStatus = dnsStatus
	return fs.outcome(order, len(pending)), nil
}

// fulfillDomain walks one domain through reserve → provision → assign.
// Every external call is individually retry-wrapped so partial progress
// within the step sequence is not repeated.
func (fs *FulfillmentService) fulfillDomain(ctx context.Context, order *models.Order,
	entry models.OrderDomain, stillReserved map[string]struct{}, isRetry bool) models.DomainResult {

	result := models.DomainResult{
		Domain:        entry.Domain,
		ForwardingURL: entry.ForwardingURL,
		FulfilledAt:   time.Now().UTC(),
	}
	if isRetry {
		now := time.Now().UTC()
		result.RetriedAt = &now
	}

	var accounts []models.InventoryAccount
	err := fs.retryPolicy.Do(ctx, "reserve_account", func() error {
		var reserveErr error
		accounts, reserveErr = fs.inventory.ReserveAvailable(ctx, 1, order.ID)
		return reserveErr
	})
	if err != nil {
		util.ReservationsFailedTotal.WithLabelValues("store_error").Inc()
		result.Status = models.ResultStatusFailed
		result.Error = err.Error()
		return result
	}
	if len(accounts) == 0 {
		// Nothing was reserved, so no compensation is needed for this domain.
		util.ReservationsFailedTotal.WithLabelValues("insufficient_inventory").Inc()
		result.Status = models.ResultStatusFailed
		result.Error = ErrInsufficientInventory.Error()
		fs.emitAlert(ctx, models.AlertTypeLowInventory,
			fmt.Sprintf("No available accounts in inventory for domain %s (order %s)", entry.Domain, order.ID),
			models.JSONMap{"orderId": order.ID, "domain": entry.Domain})
		return result
	}

	account := accounts[0]
	util.AccountsReservedTotal.Inc()
	stillReserved[account.Email] = struct{}{}
	result.AccountEmail = account.Email

	fs.logger.Info("Account reserved",
		zap.String("order_id", order.ID),
		zap.String("domain", entry.Domain),
		zap.String("account", account.Email))

	var providerOrderID string
	provisionErr := fs.retryPolicy.Do(ctx, "provision_tenant", func() error {
		var addErr error
		providerOrderID, addErr = fs.provisioner.AddOrder(ctx, provisioner.AddOrderRequest{
			Domain:   entry.Domain,
			Provider: "outlook",
			Name:     tenantName(account.Email),
			Email:    account.Email,
			Password: account.Password,
		})
		return addErr
	})

	if provisionErr == nil && providerOrderID != "" {
		result.ProviderOrderID = providerOrderID

		// Missing nameservers after retries are tolerated; the result stays
		// completed with an empty set pending manual follow-up.
		var nameservers []string
		nsErr := fs.retryPolicy.Do(ctx, "get_nameservers", func() error {
			var getErr error
			nameservers, getErr = fs.provisioner.GetNameservers(ctx, providerOrderID)
			return getErr
		})
		if nsErr != nil {
			fs.logger.Warn("Nameservers not available yet",
				zap.String("order_id", order.ID),
				zap.String("domain", entry.Domain),
				zap.Error(nsErr))
		} else {
			result.Nameservers = nameservers
		}
	}

	// The account is consumed once provisioning has been attempted, success
	// or not: a credential that may already be partially registered remotely
	// must never be re-offered to another order.
	assignErr := fs.retryPolicy.Do(ctx, "assign_account", func() error {
		return fs.inventory.Assign(ctx, []string{account.Email}, order.ID, order.CustomerEmail, entry.Domain)
	})
	if assignErr != nil {
		// Still reserved; end-of-run compensation will release it.
		result.Status = models.ResultStatusFailed
		result.Error = fmt.Sprintf("assign failed: %v", assignErr)
		fs.logger.Error("Failed to assign account",
			zap.String("order_id", order.ID),
			zap.String("domain", entry.Domain),
			zap.Error(assignErr))
		return result
	}
	delete(stillReserved, account.Email)

	if provisionErr != nil {
		result.Status = models.ResultStatusPartial
		result.Error = fmt.Sprintf("provisioning failed: %v", provisionErr)
		fs.logger.Warn("Provisioning failed, account kept assigned",
			zap.String("order_id", order.ID),
			zap.String("domain", entry.Domain),
			zap.Error(provisionErr))
		return result
	}

	result.Status = models.ResultStatusCompleted
	return result
}

// compensate releases every account still tracked as reserved after the run.
// The release is retried with the standard backoff; a final failure flags the
// order for manual reconciliation instead of crashing the result computation.
func (fs *FulfillmentService) compensate(ctx context.Context, orderID string, stillReserved map[string]struct{}) {
	if len(stillReserved) == 0 {
		return
	}

	var released int64
	err := fs.retryPolicy.Do(ctx, "release_accounts", func() error {
		var releaseErr error
		released, releaseErr = fs.inventory.Release(ctx, orderID)
		return releaseErr
	})
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRollbackFailed, err)
		fs.logger.Error("Compensation release failed",
			zap.String("order_id", orderID),
			zap.Int("accounts", len(stillReserved)),
			zap.Error(err))
		fs.emitAlert(ctx, models.AlertTypeRollbackFailure,
			fmt.Sprintf("%v for order %s (%d account(s))", err, orderID, len(stillReserved)),
			models.JSONMap{"orderId": orderID, "accounts": len(stillReserved)})
		if markErr := fs.orders.MarkNeedsReconciliation(ctx, orderID); markErr != nil {
			fs.logger.Error("Failed to flag order for reconciliation", zap.Error(markErr))
		}
		return
	}

	util.AccountsReleasedTotal.Add(float64(released))
	fs.logger.Info("Released reserved accounts",
		zap.String("order_id", orderID),
		zap.Int64("released", released))
}

func (fs *FulfillmentService) publishOutcome(ctx context.Context, orderID, status string, results models.DomainResultList) {
	if fs.publisher == nil {
		return
	}
	event := &models.OrderFulfilledEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderFulfilled,
			Timestamp: time.Now(),
		},
		OrderID:           orderID,
		FulfillmentStatus: status,
		Results:           results,
	}
	if err := fs.publisher.PublishOrderFulfilled(ctx, event); err != nil {
		fs.logger.Error("Failed to publish OrderFulfilled event", zap.Error(err))
	}
}

func (fs *FulfillmentService) checkLowInventory(ctx context.Context, orderID string) {
	stats, err := fs.inventory.Stats(ctx, fs.lowThreshold)
	if err != nil {
		fs.logger.Warn("Failed to read inventory stats", zap.Error(err))
		return
	}
	if !stats.IsLow {
		return
	}
	fs.emitAlert(ctx, models.AlertTypeLowInventory,
		fmt.Sprintf("Inventory low: %d available (threshold %d)", stats.Available, stats.Threshold),
		models.JSONMap{"available": stats.Available, "threshold": stats.Threshold, "orderId": orderID})
}

func (fs *FulfillmentService) emitAlert(ctx context.Context, alertType, message string, metadata models.JSONMap) {
	alert := &models.Alert{
		ID:       uuid.New().String(),
		Type:     alertType,
		Message:  message,
		Metadata: metadata,
		Status:   models.AlertStatusUnread,
	}
	if err := fs.alerts.InsertAlert(ctx, alert); err != nil {
		fs.logger.Error("Failed to insert alert",
			zap.String("type", alertType),
			zap.Error(err))
		return
	}
	util.AlertsEmittedTotal.WithLabelValues(alertType).Inc()
}

// GetOrder returns the customer-facing order view.
func (fs *FulfillmentService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return fs.orders.GetOrderByID(ctx, orderID)
}

func (fs *FulfillmentService) outcome(order *models.Order, processed int) *FulfillmentOutcome {
	return &FulfillmentOutcome{
		OrderID:           order.ID,
		FulfillmentStatus: order.FulfillmentStatus,
		DNSStatus:         order.DNSStatus,
		Results:           order.FulfillmentResults,
		Nameservers:       order.Nameservers,
		Processed:         processed,
	}
}

// pendingDomains returns the domains whose existing result is missing or
// failed. Completed and partial entries are never reprocessed.
func pendingDomains(order *models.Order) []models.OrderDomain {
	pending := make([]models.OrderDomain, 0, len(order.Domains))
	for _, entry := range order.Domains {
		result := order.ResultFor(entry.Domain)
		if result == nil || result.Status == models.ResultStatusFailed {
			pending = append(pending, entry)
		}
	}
	return pending
}

// mergeResults replaces old entries with new ones keyed by domain, keeping
// untouched entries byte-identical.
func mergeResults(existing models.DomainResultList, fresh []models.DomainResult) models.DomainResultList {
	replaced := make(map[string]struct{}, len(fresh))
	for _, r := range fresh {
		replaced[r.Domain] = struct{}{}
	}

	merged := make(models.DomainResultList, 0, len(existing)+len(fresh))
	for _, r := range existing {
		if _, ok := replaced[r.Domain]; !ok {
			merged = append(merged, r)
		}
	}
	merged = append(merged, fresh...)
	return merged
}

// aggregateStatus derives the order-level status: completed when every domain
// completed, failed when every domain failed, partial otherwise.
func aggregateStatus(results models.DomainResultList) string {
	if len(results) == 0 {
		return models.FulfillmentStatusPending
	}

	allCompleted, allFailed := true, true
	for _, r := range results {
		if r.Status != models.ResultStatusCompleted {
			allCompleted = false
		}
		if r.Status != models.ResultStatusFailed {
			allFailed = false
		}
	}

	switch {
	case allCompleted:
		return models.FulfillmentStatusCompleted
	case allFailed:
		return models.FulfillmentStatusFailed
	default:
		return models.FulfillmentStatusPartial
	}
}

// mergeNameserverRecords builds the verification records for every non-failed
// result that carries nameservers, preserving verification progress for
// domains this run did not touch. A failed domain is never polled even when
// provisioning issued records before the failure.
func mergeNameserverRecords(existing models.NameserverRecordList, results models.DomainResultList) models.NameserverRecordList {
	prior := make(map[string]models.NameserverRecord, len(existing))
	for _, rec := range existing {
		prior[rec.Domain] = rec
	}

	records := make(models.NameserverRecordList, 0, len(results))
	for _, r := range results {
		if r.Status == models.ResultStatusFailed || len(r.Nameservers) == 0 {
			continue
		}
		record := models.NameserverRecord{Domain: r.Domain, Nameservers: r.Nameservers}
		if old, ok := prior[r.Domain]; ok && equalNameservers(old.Nameservers, r.Nameservers) {
			record.DNSVerified = old.DNSVerified
			record.LastChecked = old.LastChecked
		}
		records = append(records, record)
	}
	return records
}

func equalNameservers(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// tenantName derives a display name from the credential email's domain part.
func tenantName(email string) string {
	at := strings.Index(email, "@")
	if at < 0 || at+1 >= len(email) {
		return "Tenant"
	}
	host := email[at+1:]
	if dot := strings.Index(host, "."); dot > 0 {
		return host[:dot]
	}
	return host
}
