package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OrdersFulfilledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orders_fulfilled_total",
		Help: "Total number of orders processed by the fulfillment saga",
	}, []string{"status"})

	DomainsFulfilledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "domains_fulfilled_total",
		Help: "Total number of domains processed, by result status",
	}, []string{"status"})

	AccountsReservedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_reserved_total",
		Help: "Total number of inventory accounts reserved",
	})

	AccountsReleasedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_released_total",
		Help: "Total number of inventory accounts released by compensation",
	})

	AccountsReclaimedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inventory_accounts_reclaimed_total",
		Help: "Total number of expired reservations reclaimed by the janitor",
	})

	ReservationsFailedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_reservations_failed_total",
		Help: "Total number of failed inventory reservations",
	}, []string{"reason"})

	ProvisionerCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provisioner_calls_total",
		Help: "Total number of provisioning API calls",
	}, []string{"operation", "outcome"})

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "retry_attempts_total",
		Help: "Total number of retry attempts, by wrapped operation",
	}, []string{"operation"})

	DNSChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dns_checks_total",
		Help: "Total number of DNS verification checks",
	})

	DNSVerifiedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dns_verified_total",
		Help: "Total number of orders whose DNS was fully verified",
	})

	AlertsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "alerts_emitted_total",
		Help: "Total number of admin alerts emitted",
	}, []string{"type"})

	FulfillmentLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fulfillment_latency_seconds",
		Help:    "Latency of a full fulfillment saga run",
		Buckets: prometheus.DefBuckets,
	})

	DNSSweepLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dns_sweep_latency_seconds",
		Help:    "Latency of a DNS verification sweep",
		Buckets: prometheus.DefBuckets,
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
