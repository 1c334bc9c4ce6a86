// Package dnsverify polls public DNS until the delegation records issued at
// fulfillment time are visible, then flips orders to active.
package dnsverify

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/models"
	"github.com/hardik25812/caidene-order-sub000/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver resolves a domain's authoritative NS records.
type Resolver interface {
	LookupNS(ctx context.Context, domain string) ([]string, error)
}

// NetResolver queries the system resolver with a per-lookup timeout.
type NetResolver struct {
	resolver *net.Resolver
	timeout  time.Duration
}

func NewNetResolver(timeout time.Duration) *NetResolver {
	return &NetResolver{resolver: &net.Resolver{}, timeout: timeout}
}

func (r *NetResolver) LookupNS(ctx context.Context, domain string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	records, err := r.resolver.LookupNS(ctx, domain)
	if err != nil {
		return nil, err
	}

	hosts := make([]string, 0, len(records))
	for _, ns := range records {
		hosts = append(hosts, ns.Host)
	}
	return hosts, nil
}

// OrderStore is the slice of the store the poller reads and writes.
type OrderStore interface {
	ListPendingDNSVerification(ctx context.Context) ([]models.Order, error)
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	SaveDNSVerification(ctx context.Context, orderID string,
		records models.NameserverRecordList, dnsStatus, fulfillmentStatus *string) error
}

// AlertStore receives the dns_verified notification.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert *models.Alert) error
}

// EventPublisher publishes the order-active event once DNS is verified.
type EventPublisher interface {
	PublishOrderActive(ctx context.Context, event *models.OrderActiveEvent) error
}

// Locker keeps two full sweeps from scanning concurrently. Per-order updates
// are idempotent given identical DNS reality, so the lock is an optimization,
// not a correctness requirement.
type Locker interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

const sweepLockKey = "dns-sweep"

// Poller verifies DNS propagation for orders left in pending_verification.
type Poller struct {
	orders    OrderStore
	alerts    AlertStore
	resolver  Resolver
	publisher EventPublisher
	locker    Locker
	logger    *zap.Logger
}

// NewPoller creates a DNS verification poller. publisher and locker may be nil.
func NewPoller(orders OrderStore, alerts AlertStore, resolver Resolver, publisher EventPublisher, locker Locker) *Poller {
	return &Poller{
		orders:    orders,
		alerts:    alerts,
		resolver:  resolver,
		publisher: publisher,
		locker:    locker,
		logger:    util.GetLogger(),
	}
}

// SweepResult summarizes one pass over all eligible orders.
type SweepResult struct {
	Checked  int          `json:"checked"`
	Verified int          `json:"verified"`
	Failed   int          `json:"failed"`
	Errors   []SweepError `json:"errors,omitempty"`
	Skipped  bool         `json:"skipped,omitempty"`
}

type SweepError struct {
	OrderID string `json:"order_id"`
	Error   string `json:"error"`
}

// Sweep examines every order with dns_status = pending_verification and a
// completed or partial fulfillment. Resolution failures for one order never
// abort the sweep over the others.
func (p *Poller) Sweep(ctx context.Context) (*SweepResult, error) {
	ctx, span := util.StartSpan(ctx, "Poller.Sweep")
	defer span.End()

	start := time.Now()
	defer func() {
		util.DNSSweepLatency.Observe(time.Since(start).Seconds())
	}()

	if p.locker != nil {
		acquired, err := p.locker.AcquireLock(ctx, sweepLockKey, 5*time.Minute)
		if err != nil {
			p.logger.Warn("Sweep lock unavailable, proceeding without it", zap.Error(err))
		} else if !acquired {
			p.logger.Info("Sweep already running, skipping")
			return &SweepResult{Skipped: true}, nil
		} else {
			defer func() {
				if err := p.locker.ReleaseLock(ctx, sweepLockKey); err != nil {
					p.logger.Warn("Failed to release sweep lock", zap.Error(err))
				}
			}()
		}
	}

	orders, err := p.orders.ListPendingDNSVerification(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for i := range orders {
		result.Checked++
		verified, err := p.verifyOrder(ctx, &orders[i])
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, SweepError{OrderID: orders[i].ID, Error: err.Error()})
			continue
		}
		if verified {
			result.Verified++
		}
	}

	p.logger.Info("DNS sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("verified", result.Verified),
		zap.Int("failed", result.Failed))
	return result, nil
}

// VerifyOrder runs verification for a single order (manual trigger).
func (p *Poller) VerifyOrder(ctx context.Context, orderID string) (bool, models.NameserverRecordList, error) {
	ctx, span := util.StartSpan(ctx, "Poller.VerifyOrder")
	defer span.End()

	order, err := p.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return false, nil, err
	}

	verified, err := p.verifyOrder(ctx, order)
	return verified, order.Nameservers, err
}

// verifyOrder checks every unverified nameserver record of the order and
// persists progress. Returns true when the whole order became verified.
func (p *Poller) verifyOrder(ctx context.Context, order *models.Order) (bool, error) {
	allVerified := len(order.Nameservers) > 0

	for i := range order.Nameservers {
		rec := &order.Nameservers[i]
		if rec.Domain == "" || rec.DNSVerified {
			continue
		}

		util.DNSChecksTotal.Inc()
		verified := p.checkDomain(ctx, rec.Domain, rec.Nameservers)

		now := time.Now().UTC()
		rec.DNSVerified = verified
		rec.LastChecked = &now

		if !verified {
			allVerified = false
		}
	}

	var dnsStatus, fulfillmentStatus *string
	if allVerified {
		verified := models.DNSStatusVerified
		active := models.FulfillmentStatusActive
		dnsStatus, fulfillmentStatus = &verified, &active
	}

	if err := p.orders.SaveDNSVerification(ctx, order.ID, order.Nameservers, dnsStatus, fulfillmentStatus); err != nil {
		return false, err
	}

	if allVerified {
		util.DNSVerifiedTotal.Inc()
		p.notifyVerified(ctx, order)
	}
	return allVerified, nil
}

// checkDomain resolves the domain's NS records and compares them against the
// expected set. A resolution failure means "not yet verified", never fatal.
func (p *Poller) checkDomain(ctx context.Context, domain string, expected []string) bool {
	actual, err := p.resolver.LookupNS(ctx, domain)
	if err != nil {
		p.logger.Debug("NS lookup failed",
			zap.String("domain", domain),
			zap.Error(err))
		return false
	}
	return NameserversMatch(expected, actual)
}

// NameserversMatch reports whether every expected nameserver is present in
// the resolved set. Values are lower-cased with the trailing dot stripped,
// and matching is substring-tolerant in both directions to absorb provider
// suffix variation.
func NameserversMatch(expected, actual []string) bool {
	if len(expected) == 0 || len(actual) == 0 {
		return false
	}

	normalizedActual := make([]string, 0, len(actual))
	for _, ns := range actual {
		normalizedActual = append(normalizedActual, NormalizeNameserver(ns))
	}

	for _, exp := range expected {
		want := NormalizeNameserver(exp)
		found := false
		for _, got := range normalizedActual {
			if strings.Contains(got, want) || strings.Contains(want, got) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NormalizeNameserver lower-cases and strips the trailing dot.
func NormalizeNameserver(ns string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(ns)), ".")
}

func (p *Poller) notifyVerified(ctx context.Context, order *models.Order) {
	domains := make([]string, 0, len(order.Nameservers))
	for _, rec := range order.Nameservers {
		domains = append(domains, rec.Domain)
	}

	alert := &models.Alert{
		ID:   uuid.New().String(),
		Type: models.AlertTypeDNSVerified,
		Message: "DNS verified for order " + order.ID + " (" + order.CustomerEmail +
			"). Order is now ACTIVE.",
		Metadata: models.JSONMap{
			"orderId": order.ID,
			"email":   order.CustomerEmail,
			"domains": domains,
		},
		Status: models.AlertStatusUnread,
	}
	if err := p.alerts.InsertAlert(ctx, alert); err != nil {
		p.logger.Error("Failed to insert dns_verified alert", zap.Error(err))
	} else {
		util.AlertsEmittedTotal.WithLabelValues(models.AlertTypeDNSVerified).Inc()
	}

	if p.publisher == nil {
		return
	}
	event := &models.OrderActiveEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderActive,
			Timestamp: time.Now(),
		},
		OrderID:       order.ID,
		CustomerEmail: order.CustomerEmail,
		Domains:       domains,
	}
	if err := p.publisher.PublishOrderActive(ctx, event); err != nil {
		p.logger.Error("Failed to publish OrderActive event", zap.Error(err))
	}
}
