package wallet

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// fakeRepo is an in-memory Repository with the same atomicity guarantees as
// the Postgres implementation: balance changes and ledger rows happen under
// one lock, debits are rejected before the balance can go negative, and a
// reference can be credited at most once.
type fakeRepo struct {
	mu           sync.Mutex
	wallets      map[uuid.UUID]*Wallet // keyed by user id
	transactions []Transaction
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{wallets: make(map[uuid.UUID]*Wallet)}
}

func (f *fakeRepo) EnsureWallet(_ context.Context, userID uuid.UUID) (*Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if w, ok := f.wallets[userID]; ok {
		cp := *w
		return &cp, nil
	}

	w := &Wallet{ID: uuid.New(), UserID: userID, CreditsBalance: decimal.Zero, CreatedAt: time.Now()}
	f.wallets[userID] = w
	f.transactions = append(f.transactions, Transaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Amount:      decimal.Zero,
		TxType:      string(TxTypePurchase),
		Description: "Initial wallet creation",
		CreatedAt:   time.Now(),
	})
	cp := *w
	return &cp, nil
}

func (f *fakeRepo) GetByUserID(_ context.Context, userID uuid.UUID) (*Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[userID]
	if !ok {
		return nil, ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (f *fakeRepo) Credit(_ context.Context, userID uuid.UUID, amount decimal.Decimal, txType, description, reference string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[userID]
	if !ok {
		return uuid.Nil, ErrWalletNotFound
	}
	if reference != "" {
		for _, t := range f.transactions {
			if t.Reference.Valid && t.Reference.String == reference {
				return uuid.Nil, ErrDuplicateReference
			}
		}
	}

	w.CreditsBalance = w.CreditsBalance.Add(amount)
	tx := Transaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Amount:      amount,
		TxType:      txType,
		Description: description,
		CreatedAt:   time.Now(),
	}
	if reference != "" {
		tx.Reference.Valid = true
		tx.Reference.String = reference
	}
	f.transactions = append(f.transactions, tx)
	return tx.ID, nil
}

func (f *fakeRepo) Debit(_ context.Context, userID uuid.UUID, minutes decimal.Decimal, agentID uuid.UUID, description string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[userID]
	if !ok {
		return uuid.Nil, ErrWalletNotFound
	}
	if w.CreditsBalance.LessThan(minutes) {
		return uuid.Nil, ErrInsufficientCredits
	}

	w.CreditsBalance = w.CreditsBalance.Sub(minutes)
	tx := Transaction{
		ID:          uuid.New(),
		WalletID:    w.ID,
		Amount:      minutes.Neg(),
		TxType:      string(TxTypeUsage),
		Description: description,
		AgentID:     uuid.NullUUID{UUID: agentID, Valid: agentID != uuid.Nil},
		CreatedAt:   time.Now(),
	}
	f.transactions = append(f.transactions, tx)
	return tx.ID, nil
}

func (f *fakeRepo) ListTransactions(_ context.Context, userID uuid.UUID, pagination Pagination) ([]Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w, ok := f.wallets[userID]
	if !ok {
		return []Transaction{}, nil
	}

	limit := pagination.Limit
	if limit <= 0 {
		limit = 20
	}

	var out []Transaction
	for _, t := range f.transactions {
		if t.WalletID == w.ID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	if pagination.Offset >= len(out) {
		return []Transaction{}, nil
	}
	out = out[pagination.Offset:]
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRepo) GetByReference(_ context.Context, reference string) (*Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.transactions {
		if f.transactions[i].Reference.Valid && f.transactions[i].Reference.String == reference {
			cp := f.transactions[i]
			return &cp, nil
		}
	}
	return nil, nil
}

// sumForWallet totals all ledger amounts for a user's wallet.
func (f *fakeRepo) sumForWallet(userID uuid.UUID) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.wallets[userID]
	sum := decimal.Zero
	for _, t := range f.transactions {
		if t.WalletID == w.ID {
			sum = sum.Add(t.Amount)
		}
	}
	return sum
}

func TestGetWalletCreatesLazily(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()

	w, transactions, err := svc.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !w.CreditsBalance.IsZero() {
		t.Errorf("new wallet balance = %s, want 0", w.CreditsBalance)
	}
	if len(transactions) != 1 {
		t.Fatalf("expected 1 creation transaction, got %d", len(transactions))
	}
	if transactions[0].TxType != string(TxTypePurchase) || !transactions[0].Amount.IsZero() {
		t.Errorf("creation marker = %s %s, want zero purchase", transactions[0].TxType, transactions[0].Amount)
	}

	// Second access must reuse the same wallet.
	w2, _, err := svc.GetWallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetWallet (second): %v", err)
	}
	if w2.ID != w.ID {
		t.Errorf("second access created a new wallet: %s vs %s", w2.ID, w.ID)
	}
}

func TestConcurrentEnsureWalletCreatesOne(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()

	const goroutines = 20
	ids := make([]uuid.UUID, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := svc.EnsureWallet(context.Background(), userID)
			if err != nil {
				t.Errorf("EnsureWallet: %v", err)
				return
			}
			ids[i] = w.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < goroutines; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("concurrent creation produced multiple wallets: %s vs %s", ids[i], ids[0])
		}
	}
}

func TestCreditValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()

	tests := []struct {
		name    string
		amount  decimal.Decimal
		txType  TxType
		wantErr error
	}{
		{"zero amount", decimal.Zero, TxTypePurchase, ErrInvalidAmount},
		{"negative amount", decimal.NewFromInt(-5), TxTypePurchase, ErrInvalidAmount},
		{"usage type rejected", decimal.NewFromInt(5), TxTypeUsage, ErrInvalidType},
		{"unknown type rejected", decimal.NewFromInt(5), TxType("bonus"), ErrInvalidType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Credit(context.Background(), userID, tt.amount, tt.txType, "", "")
			if err != tt.wantErr {
				t.Errorf("Credit() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(10), TxTypeRefund, "refund for dropped call", ""); err != nil {
		t.Errorf("refund credit rejected: %v", err)
	}
	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(3), TxTypeAdjustment, "support adjustment", ""); err != nil {
		t.Errorf("adjustment credit rejected: %v", err)
	}
}

func TestDebitInsufficientCredits(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()
	agentID := uuid.New()

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(5), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	_, err := svc.Debit(context.Background(), userID, decimal.NewFromFloat(5.5), agentID, "")
	if err != ErrInsufficientCredits {
		t.Fatalf("Debit error = %v, want ErrInsufficientCredits", err)
	}

	// Failed debit must not touch the balance or the ledger.
	w, err := repo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if !w.CreditsBalance.Equal(decimal.NewFromInt(5)) {
		t.Errorf("balance after failed debit = %s, want 5", w.CreditsBalance)
	}

	// Exact balance is spendable down to zero.
	if _, err := svc.Debit(context.Background(), userID, decimal.NewFromInt(5), agentID, ""); err != nil {
		t.Fatalf("exact-balance debit rejected: %v", err)
	}
	w, _ = repo.GetByUserID(context.Background(), userID)
	if !w.CreditsBalance.IsZero() {
		t.Errorf("balance after exact debit = %s, want 0", w.CreditsBalance)
	}
}

func TestDebitValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)

	if _, err := svc.Debit(context.Background(), uuid.New(), decimal.Zero, uuid.New(), ""); err != ErrInvalidAmount {
		t.Errorf("zero-minute debit error = %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Debit(context.Background(), uuid.New(), decimal.NewFromInt(-1), uuid.New(), ""); err != ErrInvalidAmount {
		t.Errorf("negative debit error = %v, want ErrInvalidAmount", err)
	}
}

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()
	agentID := uuid.New()

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(10), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	// Two concurrent 6-minute debits against a balance of 10: exactly one
	// may succeed.
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Debit(context.Background(), userID, decimal.NewFromInt(6), agentID, "")
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch err {
		case nil:
			succeeded++
		case ErrInsufficientCredits:
		default:
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one debit to succeed, got %d", succeeded)
	}

	w, err := repo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if !w.CreditsBalance.Equal(decimal.NewFromInt(4)) {
		t.Errorf("balance = %s, want 4", w.CreditsBalance)
	}
}

func TestBalanceMatchesLedgerUnderLoad(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()
	agentID := uuid.New()

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(100), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%3 == 0 {
				svc.Credit(context.Background(), userID, decimal.NewFromInt(2), TxTypePurchase, "", "")
			} else {
				svc.Debit(context.Background(), userID, decimal.NewFromFloat(1.5), agentID, "")
			}
		}(i)
	}
	wg.Wait()

	w, err := repo.GetByUserID(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if w.CreditsBalance.IsNegative() {
		t.Errorf("balance went negative: %s", w.CreditsBalance)
	}
	if sum := repo.sumForWallet(userID); !w.CreditsBalance.Equal(sum) {
		t.Errorf("balance %s does not equal ledger sum %s", w.CreditsBalance, sum)
	}
}

func TestCreditReferenceIdempotency(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()

	first, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(25), TxTypePurchase, "", "cs_test_abc123")
	if err != nil {
		t.Fatalf("first credit: %v", err)
	}

	_, err = svc.Credit(context.Background(), userID, decimal.NewFromInt(25), TxTypePurchase, "", "cs_test_abc123")
	if err != ErrDuplicateReference {
		t.Fatalf("replay error = %v, want ErrDuplicateReference", err)
	}

	// The balance must reflect exactly one credit.
	w, _ := repo.GetByUserID(context.Background(), userID)
	if !w.CreditsBalance.Equal(decimal.NewFromInt(25)) {
		t.Errorf("balance after replay = %s, want 25", w.CreditsBalance)
	}

	// The original transaction is retrievable for the replayed reference.
	existing, err := svc.FindByReference(context.Background(), "cs_test_abc123")
	if err != nil {
		t.Fatalf("FindByReference: %v", err)
	}
	if existing == nil || existing.ID != first {
		t.Errorf("FindByReference returned %v, want transaction %s", existing, first)
	}

	// Concurrent replays of the same reference credit at most once.
	repo2 := newFakeRepo()
	svc2 := NewService(repo2)
	user2 := uuid.New()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc2.Credit(context.Background(), user2, decimal.NewFromInt(10), TxTypePurchase, "", "cs_test_race")
		}()
	}
	wg.Wait()

	w2, _ := repo2.GetByUserID(context.Background(), user2)
	if !w2.CreditsBalance.Equal(decimal.NewFromInt(10)) {
		t.Errorf("balance after concurrent replays = %s, want 10", w2.CreditsBalance)
	}
}

func TestFindByReferenceEmpty(t *testing.T) {
	svc := NewService(newFakeRepo())

	tx, err := svc.FindByReference(context.Background(), "")
	if err != nil || tx != nil {
		t.Errorf("empty reference: got %v, %v, want nil, nil", tx, err)
	}

	tx, err = svc.FindByReference(context.Background(), "cs_never_seen")
	if err != nil || tx != nil {
		t.Errorf("unknown reference: got %v, %v, want nil, nil", tx, err)
	}
}

func TestListTransactionsPagination(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()
	agentID := uuid.New()

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(100), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := svc.Debit(context.Background(), userID, decimal.NewFromInt(1), agentID, ""); err != nil {
			t.Fatalf("Debit: %v", err)
		}
	}

	// 7 rows total: creation marker, purchase, 5 debits.
	all, err := svc.ListTransactions(context.Background(), userID, 50, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(all) != 7 {
		t.Fatalf("expected 7 transactions, got %d", len(all))
	}

	page, err := svc.ListTransactions(context.Background(), userID, 3, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(page) != 3 {
		t.Errorf("limit 3 returned %d rows", len(page))
	}

	rest, err := svc.ListTransactions(context.Background(), userID, 50, 5)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}
	if len(rest) != 2 {
		t.Errorf("offset 5 returned %d rows, want 2", len(rest))
	}
}

func TestDebitRecordsAgentAndNegativeAmount(t *testing.T) {
	repo := newFakeRepo()
	svc := NewService(repo)
	userID := uuid.New()
	agentID := uuid.New()

	if _, err := svc.Credit(context.Background(), userID, decimal.NewFromInt(10), TxTypePurchase, "", ""); err != nil {
		t.Fatalf("Credit: %v", err)
	}
	if _, err := svc.Debit(context.Background(), userID, decimal.NewFromFloat(2.5), agentID, "outbound call"); err != nil {
		t.Fatalf("Debit: %v", err)
	}

	transactions, err := svc.ListTransactions(context.Background(), userID, 10, 0)
	if err != nil {
		t.Fatalf("ListTransactions: %v", err)
	}

	var usage *Transaction
	for i := range transactions {
		if transactions[i].TxType == string(TxTypeUsage) {
			usage = &transactions[i]
			break
		}
	}
	if usage == nil {
		t.Fatal("usage transaction not recorded")
	}
	if !usage.Amount.Equal(decimal.NewFromFloat(-2.5)) {
		t.Errorf("usage amount = %s, want -2.5", usage.Amount)
	}
	if !usage.AgentID.Valid || usage.AgentID.UUID != agentID {
		t.Errorf("usage agent = %v, want %s", usage.AgentID, agentID)
	}
	if usage.Description != "outbound call" {
		t.Errorf("description = %q", usage.Description)
	}
}
