// Package memstore is an in-process implementation of the order and funds
// stores. Transactions are serialized on one mutex and run against a copy
// of the state that replaces the live state only on success.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/apperr"
	"github.com/ariefcatur/go-marketplace-orders/internal/funds"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/wallet"
	"github.com/google/uuid"
)

type User struct {
	ID    string
	Email string
	Name  string
}

type state struct {
	users         map[string]User
	wallets       map[string]wallet.Wallet
	counters      map[string]orders.Counters
	orders        map[string]*orders.Order
	intents       map[string]*funds.Intent
	gigs          map[string]*orders.Gig
	jobs          map[string]orders.Job
	proposals     map[string]orders.Proposal
	conversations map[string]string
}

func newState() *state {
	return &state{
		users:         map[string]User{},
		wallets:       map[string]wallet.Wallet{},
		counters:      map[string]orders.Counters{},
		orders:        map[string]*orders.Order{},
		intents:       map[string]*funds.Intent{},
		gigs:          map[string]*orders.Gig{},
		jobs:          map[string]orders.Job{},
		proposals:     map[string]orders.Proposal{},
		conversations: map[string]string{},
	}
}

// clone copies every map. Orders and intents are copy-on-write: writers
// always store a fresh clone, so sharing the pointers here is safe.
func (st *state) clone() *state {
	c := newState()
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.wallets {
		c.wallets[k] = v
	}
	for k, v := range st.counters {
		c.counters[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.intents {
		c.intents[k] = v
	}
	for k, v := range st.gigs {
		c.gigs[k] = v
	}
	for k, v := range st.jobs {
		c.jobs[k] = v
	}
	for k, v := range st.proposals {
		c.proposals[k] = v
	}
	for k, v := range st.conversations {
		c.conversations[k] = v
	}
	return c
}

type Store struct {
	mu sync.Mutex
	st *state
}

func New() *Store {
	return &Store{st: newState()}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx orders.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) WithFundsTx(ctx context.Context, fn func(tx funds.Tx) error) error {
	return s.run(ctx, func(t *tx) error { return fn(t) })
}

func (s *Store) run(ctx context.Context, fn func(t *tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) GetOrder(_ context.Context, id string) (*orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.st.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o.Clone(), nil
}

func (s *Store) ListOrders(_ context.Context, userID string, party orders.Party) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []orders.Order{}
	for _, o := range s.st.orders {
		if (party == orders.PartyBuyer && o.BuyerID == userID) || (party == orders.PartySeller && o.SellerID == userID) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListExpiredActivated(_ context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*orders.Order
	for _, o := range s.st.orders {
		if o.Status == orders.StatusActivated && o.PaymentDeadline != nil && o.PaymentDeadline.Before(now) {
			due = append(due, o)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PaymentDeadline.Before(*due[j].PaymentDeadline) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	ids := make([]string, len(due))
	for i, o := range due {
		ids[i] = o.ID
	}
	return ids, nil
}

func (s *Store) GetIntent(_ context.Context, id string) (*funds.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.st.intents[id]
	if !ok {
		return nil, apperr.NotFound("intent %s not found", id)
	}
	return in.Clone(), nil
}

func (s *Store) Wallet(_ context.Context, userID string) (wallet.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.wallet(userID), nil
}

func (s *Store) Contact(_ context.Context, userID string) (funds.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.st.users[userID]
	if !ok {
		return funds.Contact{}, apperr.NotFound("user %s not found", userID)
	}
	return funds.Contact{UserID: u.ID, Email: u.Email, Name: u.Name}, nil
}

func (st *state) wallet(userID string) wallet.Wallet {
	w, ok := st.wallets[userID]
	if !ok {
		return wallet.Wallet{UserID: userID, Currency: wallet.DefaultCurrency}
	}
	return w
}

// Seeding and inspection helpers.

func (s *Store) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.users[u.ID] = u
}

func (s *Store) SetBalance(userID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.st.wallet(userID)
	w.Balance = balance
	s.st.wallets[userID] = w
}

func (s *Store) AddGig(g orders.Gig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.Tiers = append([]orders.GigTier(nil), g.Tiers...)
	s.st.gigs[g.ID] = &g
}

func (s *Store) AddJob(j orders.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.Status == "" {
		j.Status = orders.JobOpen
	}
	s.st.jobs[j.ID] = j
}

func (s *Store) AddProposal(p orders.Proposal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.Status == "" {
		p.Status = "pending"
	}
	s.st.proposals[p.ID] = p
}

// PutOrder stores o as is, for fixtures that start mid-lifecycle.
func (s *Store) PutOrder(o *orders.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.orders[o.ID] = o.Clone()
}

func (s *Store) Counters(userID string) orders.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.counters[userID]
}

func (s *Store) Job(id string) (orders.Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.st.jobs[id]
	return j, ok
}

func (s *Store) Proposal(id string) (orders.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.st.proposals[id]
	return p, ok
}

type tx struct {
	st *state
}

func (t *tx) Wallet(_ context.Context, userID string) (wallet.Wallet, error) {
	return t.st.wallet(userID), nil
}

func (t *tx) Credit(_ context.Context, userID string, amount int64) (int64, error) {
	if err := wallet.ValidateAmount(amount); err != nil {
		return 0, err
	}
	return t.apply(userID, amount, false)
}

func (t *tx) Debit(_ context.Context, userID string, amount int64) (int64, error) {
	if err := wallet.ValidateAmount(amount); err != nil {
		return 0, err
	}
	return t.apply(userID, -amount, false)
}

func (t *tx) Withdraw(_ context.Context, userID string, amount int64) (int64, error) {
	if err := wallet.ValidateAmount(amount); err != nil {
		return 0, err
	}
	return t.apply(userID, -amount, true)
}

func (t *tx) apply(userID string, delta int64, withdrawal bool) (int64, error) {
	w := t.st.wallet(userID)
	if err := wallet.Apply(&w, delta); err != nil {
		return w.Balance, err
	}
	if withdrawal {
		w.TotalWithdrawn += -delta
	}
	t.st.wallets[userID] = w
	return w.Balance, nil
}

func (t *tx) LockOrder(_ context.Context, id string) (*orders.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, apperr.NotFound("order %s not found", id)
	}
	return o.Clone(), nil
}

func (t *tx) InsertOrder(_ context.Context, o *orders.Order) error {
	if _, ok := t.st.orders[o.ID]; ok {
		return fmt.Errorf("insert order %s: duplicate id", o.ID)
	}
	o.Version = 1
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *tx) UpdateOrder(_ context.Context, o *orders.Order, expected orders.Status) error {
	cur, ok := t.st.orders[o.ID]
	if !ok {
		return apperr.NotFound("order %s not found", o.ID)
	}
	if cur.Status != expected || cur.Version != o.Version {
		return apperr.Conflict("order %s was modified concurrently", o.ID)
	}
	o.Version++
	t.st.orders[o.ID] = o.Clone()
	return nil
}

func (t *tx) HasInFlightOrder(_ context.Context, q orders.InFlightQuery) (bool, error) {
	for _, o := range t.st.orders {
		if !o.Status.InFlight() {
			continue
		}
		if (q.BuyerID == "" || o.BuyerID == q.BuyerID) &&
			(q.SellerID == "" || o.SellerID == q.SellerID) &&
			(q.GigID == "" || o.GigID == q.GigID) &&
			(q.JobID == "" || o.JobID == q.JobID) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) GetGig(_ context.Context, id string) (*orders.Gig, error) {
	g, ok := t.st.gigs[id]
	if !ok {
		return nil, apperr.NotFound("gig %s not found", id)
	}
	c := *g
	c.Tiers = append([]orders.GigTier(nil), g.Tiers...)
	return &c, nil
}

func (t *tx) LockProposal(_ context.Context, id string) (*orders.Proposal, error) {
	p, ok := t.st.proposals[id]
	if !ok {
		return nil, apperr.NotFound("proposal %s not found", id)
	}
	return &p, nil
}

func (t *tx) SetProposalStatus(_ context.Context, id, status string) error {
	p, ok := t.st.proposals[id]
	if !ok {
		return apperr.NotFound("proposal %s not found", id)
	}
	p.Status = status
	t.st.proposals[id] = p
	return nil
}

func (t *tx) LockJob(_ context.Context, id string) (*orders.Job, error) {
	j, ok := t.st.jobs[id]
	if !ok {
		return nil, apperr.NotFound("job %s not found", id)
	}
	return &j, nil
}

func (t *tx) UpdateJob(_ context.Context, j *orders.Job) error {
	if _, ok := t.st.jobs[j.ID]; !ok {
		return apperr.NotFound("job %s not found", j.ID)
	}
	t.st.jobs[j.ID] = *j
	return nil
}

func (t *tx) UpsertConversation(_ context.Context, buyerID, sellerID string) (string, error) {
	key := buyerID + "|" + sellerID
	if id, ok := t.st.conversations[key]; ok {
		return id, nil
	}
	id := uuid.NewString()
	t.st.conversations[key] = id
	return id, nil
}

func (t *tx) AddCounters(_ context.Context, userID string, c orders.Counters) error {
	cur := t.st.counters[userID]
	cur.CompletedOrders += c.CompletedOrders
	cur.CancelledOrders += c.CancelledOrders
	cur.Earnings += c.Earnings
	t.st.counters[userID] = cur
	return nil
}

// LockUsers is a no-op; run already serialises every transaction.
func (t *tx) LockUsers(context.Context, ...string) error { return nil }

func (t *tx) InsertIntent(_ context.Context, in *funds.Intent) error {
	if _, ok := t.st.intents[in.ID]; ok {
		return fmt.Errorf("insert intent %s: duplicate id", in.ID)
	}
	t.st.intents[in.ID] = in.Clone()
	return nil
}

func (t *tx) LockIntent(_ context.Context, id string) (*funds.Intent, error) {
	in, ok := t.st.intents[id]
	if !ok {
		return nil, apperr.NotFound("intent %s not found", id)
	}
	return in.Clone(), nil
}

func (t *tx) UpdateIntent(_ context.Context, in *funds.Intent, expected funds.Status) error {
	cur, ok := t.st.intents[in.ID]
	if !ok {
		return apperr.NotFound("intent %s not found", in.ID)
	}
	if cur.Status != expected {
		return apperr.Conflict("intent %s already %s", in.ID, cur.Status)
	}
	t.st.intents[in.ID] = in.Clone()
	return nil
}

var (
	_ orders.Store = (*Store)(nil)
	_ funds.Store  = (*Store)(nil)
	_ funds.Tx     = (*tx)(nil)
)
