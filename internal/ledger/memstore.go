package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"siniopay/internal/account"
	"siniopay/internal/transaction"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"
)

// FaultFunc is consulted before every store operation of a MemoryStore unit
// and before commit. A non-nil return aborts the unit with that error.
type FaultFunc func(op string) error

// MemoryStore is an in-process UnitOfWork with the same locking and
// visibility rules as the Postgres store. Writes are staged per unit and
// become visible to other units only on commit.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]account.Account
	owners       map[string]string
	transactions map[string]transaction.Transaction
	locks        map[string]*semaphore.Weighted
	lockTimeout  time.Duration
	fault        FaultFunc
	now          func() time.Time
}

func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]account.Account),
		owners:       make(map[string]string),
		transactions: make(map[string]transaction.Transaction),
		locks:        make(map[string]*semaphore.Weighted),
		lockTimeout:  lockTimeout,
		now:          time.Now,
	}
}

func (s *MemoryStore) SetFault(f FaultFunc) {
	s.mu.Lock()
	s.fault = f
	s.mu.Unlock()
}

// Seed stores a committed account directly, bypassing units of work.
func (s *MemoryStore) Seed(a account.Account) account.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = account.StatusActive
	}
	if a.Currency == "" {
		a.Currency = "NGN"
	}
	now := s.now()
	a.CreatedAt, a.UpdatedAt = now, now
	s.accounts[a.ID] = a
	s.owners[a.OwnerID] = a.ID
	return a
}

// Account returns the committed state of an account.
func (s *MemoryStore) Account(id string) (account.Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	return a, ok
}

// Transaction returns the committed state of a transaction.
func (s *MemoryStore) Transaction(id string) (transaction.Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transactions[id]
	return t, ok
}

// TotalBalance sums every committed account balance.
func (s *MemoryStore) TotalBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, a := range s.accounts {
		total = total.Add(a.Balance)
	}
	return total
}

func (s *MemoryStore) Do(ctx context.Context, fn func(ctx context.Context, u Unit) error) error {
	u := &memUnit{
		store:        s,
		held:         make(map[string]bool),
		accounts:     make(map[string]account.Account),
		transactions: make(map[string]transaction.Transaction),
	}
	defer u.release()

	if err := fn(ctx, u); err != nil {
		return classify(err)
	}
	if err := ctx.Err(); err != nil {
		return classify(err)
	}
	if err := s.check("commit"); err != nil {
		return fmt.Errorf("%w: commit: %w", ErrStorageFailure, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range u.accounts {
		s.accounts[id] = a
		s.owners[a.OwnerID] = id
	}
	for id, t := range u.transactions {
		s.transactions[id] = t
	}
	return nil
}

func (s *MemoryStore) check(op string) error {
	s.mu.Lock()
	f := s.fault
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	return f(op)
}

func (s *MemoryStore) rowLock(key string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = semaphore.NewWeighted(1)
		s.locks[key] = l
	}
	return l
}

type memUnit struct {
	store        *MemoryStore
	held         map[string]bool
	order        []string
	accounts     map[string]account.Account
	transactions map[string]transaction.Transaction
}

func (u *memUnit) Accounts() account.Repository         { return memAccounts{u} }
func (u *memUnit) Transactions() transaction.Repository { return memTransactions{u} }

func (u *memUnit) lock(ctx context.Context, key string) error {
	if u.held[key] {
		return nil
	}
	waitCtx := ctx
	if u.store.lockTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, u.store.lockTimeout)
		defer cancel()
	}
	if err := u.store.rowLock(key).Acquire(waitCtx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrContentionTimeout, key)
		}
		return err
	}
	u.held[key] = true
	u.order = append(u.order, key)
	return nil
}

func (u *memUnit) release() {
	for i := len(u.order) - 1; i >= 0; i-- {
		u.store.rowLock(u.order[i]).Release(1)
	}
	u.order = nil
	u.held = map[string]bool{}
}

func (u *memUnit) account(id string) (account.Account, bool) {
	if a, ok := u.accounts[id]; ok {
		return a, true
	}
	return u.store.Account(id)
}

func (u *memUnit) transaction(id string) (transaction.Transaction, bool) {
	if t, ok := u.transactions[id]; ok {
		return t, true
	}
	return u.store.Transaction(id)
}

type memAccounts struct{ u *memUnit }

func (r memAccounts) FindByOwner(ctx context.Context, ownerID string) (account.Account, error) {
	if err := r.u.store.check("accounts.find_by_owner"); err != nil {
		return account.Account{}, err
	}
	for _, a := range r.u.accounts {
		if a.OwnerID == ownerID {
			return a, nil
		}
	}
	r.u.store.mu.Lock()
	id, ok := r.u.store.owners[ownerID]
	r.u.store.mu.Unlock()
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	a, _ := r.u.account(id)
	return a, nil
}

func (r memAccounts) FindByID(ctx context.Context, id string) (account.Account, error) {
	if err := r.u.store.check("accounts.find_by_id"); err != nil {
		return account.Account{}, err
	}
	a, ok := r.u.account(id)
	if !ok {
		return account.Account{}, account.ErrNotFound
	}
	return a, nil
}

func (r memAccounts) FindByNumber(ctx context.Context, accountNumber string) (account.Account, error) {
	if err := r.u.store.check("accounts.find_by_number"); err != nil {
		return account.Account{}, err
	}
	for _, a := range r.u.accounts {
		if a.AccountNumber == accountNumber {
			return a, nil
		}
	}
	r.u.store.mu.Lock()
	defer r.u.store.mu.Unlock()
	for _, a := range r.u.store.accounts {
		if a.AccountNumber == accountNumber {
			return a, nil
		}
	}
	return account.Account{}, account.ErrNotFound
}

func (r memAccounts) GetForUpdate(ctx context.Context, id string) (account.Account, error) {
	if err := r.u.store.check("accounts.get_for_update"); err != nil {
		return account.Account{}, err
	}
	if _, ok := r.u.account(id); !ok {
		return account.Account{}, account.ErrNotFound
	}
	if err := r.u.lock(ctx, "account:"+id); err != nil {
		return account.Account{}, err
	}
	a, _ := r.u.account(id)
	return a, nil
}

func (r memAccounts) ApplyBalanceDelta(ctx context.Context, id string, delta decimal.Decimal) (account.Account, error) {
	if err := r.u.store.check("accounts.apply_balance_delta"); err != nil {
		return account.Account{}, err
	}
	if _, ok := r.u.account(id); !ok {
		return account.Account{}, account.ErrNotFound
	}
	if err := r.u.lock(ctx, "account:"+id); err != nil {
		return account.Account{}, err
	}
	a, _ := r.u.account(id)
	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return account.Account{}, account.ErrNegativeBalance
	}
	a.Balance = next
	a.UpdatedAt = r.u.store.now()
	r.u.accounts[id] = a
	return a, nil
}

func (r memAccounts) Create(ctx context.Context, ownerID, currency string) (account.Account, error) {
	if err := r.u.store.check("accounts.create"); err != nil {
		return account.Account{}, err
	}
	if _, err := r.FindByOwner(ctx, ownerID); err == nil {
		return account.Account{}, fmt.Errorf("create account: owner %s already has an account", ownerID)
	}
	now := r.u.store.now()
	a := account.Account{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Balance:   decimal.Zero,
		Status:    account.StatusActive,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}
	a.AccountNumber = fmt.Sprintf("%010d", uuid.New().ID())
	r.u.accounts[a.ID] = a
	return a, nil
}

func (r memAccounts) UpdateStatus(ctx context.Context, id string, status account.Status) (account.Account, error) {
	if !status.Valid() {
		return account.Account{}, account.ErrInvalidStatus
	}
	if _, err := r.GetForUpdate(ctx, id); err != nil {
		return account.Account{}, err
	}
	a, _ := r.u.account(id)
	a.Status = status
	a.UpdatedAt = r.u.store.now()
	r.u.accounts[id] = a
	return a, nil
}

type memTransactions struct{ u *memUnit }

func (r memTransactions) Insert(ctx context.Context, t transaction.Transaction) (transaction.Transaction, error) {
	if err := r.u.store.check("transactions.insert"); err != nil {
		return transaction.Transaction{}, err
	}
	if _, exists := r.u.transaction(t.ID); exists {
		return transaction.Transaction{}, fmt.Errorf("insert transaction: duplicate id %s", t.ID)
	}
	if len(t.Metadata) == 0 {
		t.Metadata = types.JSONText("{}")
	}
	now := r.u.store.now()
	t.CreatedAt, t.UpdatedAt = now, now
	r.u.transactions[t.ID] = t
	return t, nil
}

func (r memTransactions) FindByID(ctx context.Context, id string) (transaction.Transaction, error) {
	if err := r.u.store.check("transactions.find_by_id"); err != nil {
		return transaction.Transaction{}, err
	}
	t, ok := r.u.transaction(id)
	if !ok {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	return t, nil
}

func (r memTransactions) GetForUpdate(ctx context.Context, id string) (transaction.Transaction, error) {
	if err := r.u.store.check("transactions.get_for_update"); err != nil {
		return transaction.Transaction{}, err
	}
	if _, ok := r.u.transaction(id); !ok {
		return transaction.Transaction{}, transaction.ErrNotFound
	}
	if err := r.u.lock(ctx, "transaction:"+id); err != nil {
		return transaction.Transaction{}, err
	}
	t, _ := r.u.transaction(id)
	return t, nil
}

func (r memTransactions) UpdateStatus(ctx context.Context, id string, status transaction.Status, reviewer string) (transaction.Transaction, error) {
	if err := r.u.store.check("transactions.update_status"); err != nil {
		return transaction.Transaction{}, err
	}
	if _, err := r.GetForUpdate(ctx, id); err != nil {
		return transaction.Transaction{}, err
	}
	t, _ := r.u.transaction(id)
	if !transaction.CanTransition(t.Status, status) {
		return transaction.Transaction{}, transaction.ErrInvalidTransition
	}
	now := r.u.store.now()
	t.Status = status
	t.UpdatedAt = now
	if reviewer != "" {
		t.ReviewedBy = &reviewer
		t.ReviewedAt = &now
	}
	r.u.transactions[id] = t
	return t, nil
}

func (r memTransactions) FindByAccount(ctx context.Context, accountID string, limit, offset int) ([]transaction.Transaction, error) {
	if err := r.u.store.check("transactions.find_by_account"); err != nil {
		return nil, err
	}
	limit, offset = transaction.NormalizePage(limit, offset)

	seen := make(map[string]transaction.Transaction)
	r.u.store.mu.Lock()
	for id, t := range r.u.store.transactions {
		seen[id] = t
	}
	r.u.store.mu.Unlock()
	for id, t := range r.u.transactions {
		seen[id] = t
	}

	out := []transaction.Transaction{}
	for _, t := range seen {
		if t.Involves(accountID) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if offset >= len(out) {
		return []transaction.Transaction{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}
