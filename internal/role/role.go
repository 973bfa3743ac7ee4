// Package role implements the role registry of the allotment manager.
//
// The registry knows one Admin, fixed at construction, and a set of Alloters.
// The Admin is always an Alloter. Only the Admin may grant the Alloter role;
// roles are never revoked.
package role

import (
	"context"
	"log/slog"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
)

// Role names a permission.
type Role string

// Known roles.
const (
	Admin   Role = "ADMIN"
	Alloter Role = "ALLOTER"
	Minter  Role = "MINTER"
)

// Registry tracks Alloter membership.
//
// Thread-safety: Registry is safe for concurrent use. Membership is held in a
// thread-safe set and the admin never changes.
type Registry struct {
	admin    ir.Account
	alloters mapset.Set[ir.Account]
	sink     ir.EventSink
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithEventSink delivers RoleGranted events to sink.
func WithEventSink(sink ir.EventSink) Option {
	return func(r *Registry) {
		r.sink = sink
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// New creates a registry whose admin is also its first Alloter.
func New(admin ir.Account, opts ...Option) (*Registry, error) {
	admin, err := ir.ParseAccount(string(admin))
	if err != nil {
		return nil, fault.InvalidArgument("admin account must not be empty")
	}
	r := &Registry{
		admin:    admin,
		alloters: mapset.NewSet(admin),
		sink:     ir.DiscardEvents,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// GrantAlloter makes account an Alloter. Only the Admin may call it.
//
// Granting an existing Alloter is a no-op: it returns granted=false and emits
// nothing.
func (r *Registry) GrantAlloter(ctx context.Context, caller, account ir.Account) (bool, error) {
	if !r.IsAdmin(caller) {
		return false, fault.PermissionDenied("caller is not admin").With("caller", string(caller))
	}
	account, err := ir.ParseAccount(string(account))
	if err != nil {
		return false, err
	}
	if !r.alloters.Add(account) {
		r.logger.DebugContext(ctx, "alloter already granted", "account", account)
		return false, nil
	}

	r.logger.InfoContext(ctx, "alloter granted", "account", account, "sender", caller)
	r.sink.Emit(ir.Event{
		Kind:    ir.EventRoleGranted,
		Role:    string(Alloter),
		Account: account,
		Sender:  caller,
	})
	return true, nil
}

// IsAlloter reports whether account holds the Alloter role.
func (r *Registry) IsAlloter(account ir.Account) bool {
	return r.alloters.Contains(account)
}

// IsAdmin reports whether account is the Admin.
func (r *Registry) IsAdmin(account ir.Account) bool {
	return account == r.admin
}

// AdminAccount returns the Admin.
func (r *Registry) AdminAccount() ir.Account {
	return r.admin
}

// Alloters returns every Alloter, sorted.
func (r *Registry) Alloters() []ir.Account {
	out := r.alloters.ToSlice()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
