package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"yogaflow/internal/billing"
	"yogaflow/internal/model"
	"yogaflow/internal/repository"

	"github.com/rs/zerolog"
)

var testLogger = zerolog.New(io.Discard)

var errBoom = errors.New("boom")

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newFakeUserRepo(users ...model.User) *fakeUserRepo {
	r := &fakeUserRepo{users: make(map[string]*model.User)}
	for i := range users {
		u := users[i]
		r.users[u.UserID] = &u
	}
	return r
}

func (r *fakeUserRepo) get(id string) model.User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

func (r *fakeUserRepo) CreateUser(_ context.Context, u *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[u.UserID]; ok {
		return fmt.Errorf("duplicate user %s", u.UserID)
	}
	cp := *u
	r.users[u.UserID] = &cp
	return nil
}

func (r *fakeUserRepo) GetUserByID(_ context.Context, id string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) GetUserByStripeCustomerID(_ context.Context, customerID string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == customerID {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeUserRepo) UpdateStripeCustomerID(_ context.Context, userID, customerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return fmt.Errorf("no user %s", userID)
	}
	u.StripeCustomerID = &customerID
	return nil
}

func (r *fakeUserRepo) UpdateAccess(_ context.Context, userID string, upd model.AccessUpdate) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, nil
	}
	next := upd.Apply(*u)
	*u = next
	return &next, nil
}

func (r *fakeUserRepo) ListUserIDsByRole(_ context.Context, role string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, u := range r.users {
		if u.Role == role {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeUserRepo) ListLapsedTrialUserIDs(_ context.Context, now time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, u := range r.users {
		if u.IsFreeTrial && u.TrialExpireAt != nil && !u.TrialExpireAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// fakeSubRepo mirrors the Postgres ledger, including the partial unique index
// on current rows. Rows are kept in insertion order; the last is the newest.
type fakeSubRepo struct {
	mu   sync.Mutex
	rows []*model.Subscription
	seq  int
}

func (r *fakeSubRepo) all() []model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Subscription, len(r.rows))
	for i, s := range r.rows {
		out[i] = *s
	}
	return out
}

func (r *fakeSubRepo) byUser(userID string) []model.Subscription {
	var out []model.Subscription
	for _, s := range r.all() {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

func (r *fakeSubRepo) add(s model.Subscription) *model.Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("row_%d", r.seq)
	}
	r.rows = append(r.rows, &s)
	return &s
}

func (r *fakeSubRepo) conflicts(s *model.Subscription, ignoreID string) bool {
	if !s.Status.IsCurrent() {
		return false
	}
	for _, row := range r.rows {
		if row.ID != s.ID && row.ID != ignoreID && row.UserID == s.UserID && row.Status.IsCurrent() {
			return true
		}
	}
	return false
}

func (r *fakeSubRepo) newest(match func(*model.Subscription) bool) *model.Subscription {
	for i := len(r.rows) - 1; i >= 0; i-- {
		if match(r.rows[i]) {
			cp := *r.rows[i]
			return &cp
		}
	}
	return nil
}

func (r *fakeSubRepo) GetCurrentByUser(_ context.Context, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newest(func(s *model.Subscription) bool { return s.UserID == userID && s.Status.IsCurrent() }), nil
}

func (r *fakeSubRepo) ListCurrentByUser(_ context.Context, userID string) ([]model.Subscription, error) {
	var out []model.Subscription
	for _, s := range r.byUser(userID) {
		if s.Status.IsCurrent() {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSubRepo) GetUpdatableByGatewayID(_ context.Context, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newest(func(s *model.Subscription) bool { return s.GatewaySubscriptionID == id && s.Status.IsUpdatable() }), nil
}

func (r *fakeSubRepo) GetByGatewayID(_ context.Context, id string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newest(func(s *model.Subscription) bool { return s.GatewaySubscriptionID == id }), nil
}

func (r *fakeSubRepo) GetLatestByUser(_ context.Context, userID string) (*model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newest(func(s *model.Subscription) bool { return s.UserID == userID }), nil
}

func (r *fakeSubRepo) ListByUser(_ context.Context, userID string) ([]model.Subscription, error) {
	rows := r.byUser(userID)
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *fakeSubRepo) HasUsedTrial(_ context.Context, userID, excludeID string) (bool, error) {
	for _, s := range r.byUser(userID) {
		if s.ID != excludeID && s.TrialStart != nil {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeSubRepo) Insert(_ context.Context, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(s, "") {
		return fmt.Errorf("insert subscription: %w", repository.ErrCurrentSubscriptionExists)
	}
	r.seq++
	if s.ID == "" {
		s.ID = fmt.Sprintf("row_%d", r.seq)
	}
	cp := *s
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakeSubRepo) ReplaceCurrent(_ context.Context, oldID string, next *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(next, oldID) {
		return fmt.Errorf("replace subscription: %w", repository.ErrCurrentSubscriptionExists)
	}
	for _, row := range r.rows {
		if row.ID == oldID {
			row.Status = model.StatusDeactivated
			row.CurrentPeriodStart = nil
			row.CurrentPeriodEnd = nil
		}
	}
	r.seq++
	if next.ID == "" {
		next.ID = fmt.Sprintf("row_%d", r.seq)
	}
	cp := *next
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *fakeSubRepo) UpdateInPlace(_ context.Context, s *model.Subscription) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts(s, "") {
		return fmt.Errorf("update subscription: %w", repository.ErrCurrentSubscriptionExists)
	}
	for _, row := range r.rows {
		if row.ID == s.ID {
			*row = *s
			return nil
		}
	}
	return fmt.Errorf("no row %s", s.ID)
}

func (r *fakeSubRepo) TransitionStatus(_ context.Context, id string, to model.SubscriptionStatus, from []model.SubscriptionStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID != id || row.Status == to {
			continue
		}
		for _, f := range from {
			if row.Status == f {
				cand := *row
				cand.Status = to
				if r.conflicts(&cand, "") {
					return false, repository.ErrCurrentSubscriptionExists
				}
				row.Status = to
				return true, nil
			}
		}
	}
	return false, nil
}

func (r *fakeSubRepo) CancelByGatewayID(_ context.Context, id string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, row := range r.rows {
		if row.GatewaySubscriptionID == id && row.Status != model.StatusCancel && !row.Status.IsTerminal() {
			row.Status = model.StatusCancel
			n++
		}
	}
	return n, nil
}

func (r *fakeSubRepo) ExpireLapsed(_ context.Context, cutoff time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, row := range r.rows {
		if !row.Status.IsTerminal() && row.CurrentPeriodEnd != nil && row.CurrentPeriodEnd.Before(cutoff) {
			row.Status = model.StatusExpired
			ids = append(ids, row.UserID)
		}
	}
	return ids, nil
}

type fakePackageRepo struct {
	pkgs []model.Package
}

func (r *fakePackageRepo) FindActiveByPriceID(_ context.Context, priceID string) (*model.Package, error) {
	for _, p := range r.pkgs {
		if p.StripePriceID == priceID && p.IsActive {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakePackageRepo) FindByID(_ context.Context, id string) (*model.Package, error) {
	for _, p := range r.pkgs {
		if p.ID == id {
			cp := p
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakePackageRepo) ListActive(_ context.Context) ([]model.Package, error) {
	var out []model.Package
	for _, p := range r.pkgs {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

type fakeGateway struct {
	customers map[string]billing.Customer
	checkouts []billing.CheckoutParams
	portals   []billing.PortalParams
	cancelled []string
	updated   map[string]string
	err       error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{customers: make(map[string]billing.Customer), updated: make(map[string]string)}
}

func (g *fakeGateway) CreateCustomer(_ context.Context, email, name, _ string) (*billing.Customer, error) {
	if g.err != nil {
		return nil, g.err
	}
	c := billing.Customer{ID: fmt.Sprintf("cus_%d", len(g.customers)+1), Email: email, Name: name}
	g.customers[c.ID] = c
	return &c, nil
}

func (g *fakeGateway) GetCustomer(_ context.Context, id string) (*billing.Customer, error) {
	if g.err != nil {
		return nil, g.err
	}
	if c, ok := g.customers[id]; ok {
		return &c, nil
	}
	return nil, nil
}

func (g *fakeGateway) GetSubscription(_ context.Context, id string) (*billing.SubscriptionSnapshot, error) {
	return &billing.SubscriptionSnapshot{ID: id}, g.err
}

func (g *fakeGateway) UpdateSubscriptionPrice(_ context.Context, subID, priceID string) (*billing.SubscriptionSnapshot, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.updated[subID] = priceID
	return &billing.SubscriptionSnapshot{ID: subID, PriceID: priceID}, nil
}

func (g *fakeGateway) CancelSubscription(_ context.Context, subID string) error {
	if g.err != nil {
		return g.err
	}
	g.cancelled = append(g.cancelled, subID)
	return nil
}

func (g *fakeGateway) CreateCheckoutSession(_ context.Context, p billing.CheckoutParams) (*billing.CheckoutSession, error) {
	if g.err != nil {
		return nil, g.err
	}
	g.checkouts = append(g.checkouts, p)
	id := fmt.Sprintf("cs_%d", len(g.checkouts))
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.test/" + id}, nil
}

func (g *fakeGateway) CreatePortalSession(_ context.Context, p billing.PortalParams) (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.portals = append(g.portals, p)
	return "https://portal.test/" + p.CustomerID, nil
}

type sentNotification struct {
	Target  model.NotificationTarget
	Kind    model.NotificationKind
	Payload map[string]any
}

type fakeNotifier struct {
	sent []sentNotification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, target model.NotificationTarget, kind model.NotificationKind, payload map[string]any) error {
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{Target: target, Kind: kind, Payload: payload})
	return nil
}

func (n *fakeNotifier) count(kind model.NotificationKind) int {
	c := 0
	for _, s := range n.sent {
		if s.Kind == kind {
			c++
		}
	}
	return c
}

type fakeDedupe struct {
	seen map[string]bool
	err  error
}

func (d *fakeDedupe) Claim(_ context.Context, key string) (bool, error) {
	if d.err != nil {
		return false, d.err
	}
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}
