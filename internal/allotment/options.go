package allotment

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/allotment/internal/ir"
)

// DefaultAddress is the manager's ledger account when none is configured.
const DefaultAddress ir.Account = "allotment-manager"

// FundingPolicy selects how a new schedule's custody account is funded.
type FundingPolicy string

const (
	// FundByMint mints the locked amount into custody. The manager account
	// needs the ledger's minter role.
	FundByMint FundingPolicy = "mint"

	// FundFromTreasury transfers the locked amount from a treasury account
	// that already holds minted supply.
	FundFromTreasury FundingPolicy = "treasury"
)

// Option configures a Manager.
type Option func(*Manager)

// WithAddress sets the manager's ledger account. Schedule ids are derived from
// it, so it must stay stable for the lifetime of a journal.
func WithAddress(address ir.Account) Option {
	return func(m *Manager) {
		m.address = address
	}
}

// WithTreasury switches to FundFromTreasury with the given source account.
func WithTreasury(treasury ir.Account) Option {
	return func(m *Manager) {
		m.funding = FundFromTreasury
		m.treasury = treasury
	}
}

// WithEventSink delivers AllotmentCreated, ReleaseTimeExtended and
// AllotmentReleased events to sink.
func WithEventSink(sink ir.EventSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithTracer sets the tracer used for mutation spans.
// Default: the global OpenTelemetry tracer provider.
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = tracer
	}
}
