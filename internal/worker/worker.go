package worker

import (
	"context"
	"log"
	"time"

	"github.com/hardik25812/caidene-order-sub000/internal/broker"
	"github.com/hardik25812/caidene-order-sub000/internal/dnsverify"
	"github.com/hardik25812/caidene-order-sub000/internal/service"
	"github.com/hardik25812/caidene-order-sub000/internal/store"
	"github.com/hardik25812/caidene-order-sub000/internal/util"
)

// FulfillmentWorker consumes payment-confirmation events and drives the
// fulfillment saga.
type FulfillmentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	fulfillment  *service.FulfillmentService
}

// NewFulfillmentWorker creates a new fulfillment worker
func NewFulfillmentWorker(
	consumer *broker.Consumer,
	fulfillment *service.FulfillmentService,
) *FulfillmentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSucceeded(fulfillment.HandlePaymentConfirmed)

	return &FulfillmentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
		fulfillment:  fulfillment,
	}
}

// Start starts the worker
func (w *FulfillmentWorker) Start(ctx context.Context) error {
	log.Println("Starting fulfillment worker...")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *FulfillmentWorker) Stop() error {
	log.Println("Stopping fulfillment worker...")
	return w.consumer.Close()
}

// DNSPollWorker runs the DNS verification sweep on a fixed interval.
type DNSPollWorker struct {
	poller   *dnsverify.Poller
	interval time.Duration
}

// NewDNSPollWorker creates a new DNS poll worker
func NewDNSPollWorker(poller *dnsverify.Poller, interval time.Duration) *DNSPollWorker {
	return &DNSPollWorker{poller: poller, interval: interval}
}

// Start runs the sweep loop until the context is cancelled.
func (w *DNSPollWorker) Start(ctx context.Context) error {
	log.Printf("Starting DNS poll worker (interval %s)...", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("DNS poll worker context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.poller.Sweep(ctx); err != nil {
				log.Printf("DNS sweep error: %v", err)
			}
		}
	}
}

// ReservationJanitor reclaims reservations older than the TTL, covering
// sagas that crashed before their own release ran.
type ReservationJanitor struct {
	store  *store.Store
	ttl    time.Duration
	period time.Duration
}

// NewReservationJanitor creates a new reservation janitor
func NewReservationJanitor(s *store.Store, ttl, period time.Duration) *ReservationJanitor {
	return &ReservationJanitor{store: s, ttl: ttl, period: period}
}

// Start runs the reclaim loop until the context is cancelled.
func (j *ReservationJanitor) Start(ctx context.Context) error {
	log.Printf("Starting reservation janitor (ttl %s, period %s)...", j.ttl, j.period)

	ticker := time.NewTicker(j.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Reservation janitor context cancelled, stopping...")
			return ctx.Err()
		case <-ticker.C:
			reclaimed, err := j.store.ReclaimExpiredReservations(ctx, j.ttl)
			if err != nil {
				log.Printf("Reservation reclaim error: %v", err)
				continue
			}
			if reclaimed > 0 {
				util.AccountsReclaimedTotal.Add(float64(reclaimed))
				log.Printf("Reclaimed %d expired reservation(s)", reclaimed)
			}
		}
	}
}
