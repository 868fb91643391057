package service

import (
	"context"
	"sync"
	"time"

	"coffee-loyalty-service/internal/model"
	"coffee-loyalty-service/internal/pkg/civil"
	"coffee-loyalty-service/internal/repository"
)

// In-memory doubles mirroring the repository semantics, including the
// conditional-update races the services rely on.

type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]*model.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{users: make(map[int64]*model.User)}
}

func (f *fakeUsers) addUser(id int64, username string, balance int64, referredByID *int64) *model.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := &model.User{
		ID:           id,
		Username:     username,
		Balance:      balance,
		ReferredByID: referredByID,
		CreatedAt:    time.Now(),
	}
	f.users[id] = u
	return u
}

func (f *fakeUsers) GetOrCreate(_ context.Context, id int64, username string, referredByID *int64) (*model.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		cp := *u
		return &cp, false, nil
	}
	u := &model.User{ID: id, Username: username, ReferredByID: referredByID, CreatedAt: time.Now()}
	f.users[id] = u
	cp := *u
	return &cp, true, nil
}

func (f *fakeUsers) GetByID(_ context.Context, id int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) RecordSpin(_ context.Context, id int64, reward int64, day time.Time) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if u.LastSpinDate != nil && u.LastSpinDate.Equal(day) {
		return nil, repository.ErrSpinAlreadyRecorded
	}
	d := day
	u.LastSpinDate = &d
	u.Balance += reward
	u.TotalSpins++
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) AddPoints(_ context.Context, id int64, amount int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.Balance += amount
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) SpendPoints(_ context.Context, id int64, amount int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	if u.Balance < amount {
		return nil, repository.ErrInsufficientBalance
	}
	u.Balance -= amount
	cp := *u
	return &cp, nil
}

func (f *fakeUsers) MarkReferralPaid(_ context.Context, id int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return false, repository.ErrUserNotFound
	}
	if u.ReferralBonusPaid {
		return false, nil
	}
	u.ReferralBonusPaid = true
	return true, nil
}

func (f *fakeUsers) UpdateUsername(_ context.Context, id int64, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Username = username
	return nil
}

func (f *fakeUsers) balance(id int64) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[id]; ok {
		return u.Balance
	}
	return 0
}

type fakeSpins struct {
	mu      sync.Mutex
	records []*model.SpinRecord
}

func (f *fakeSpins) Create(_ context.Context, userID int64, reward int64) (*model.SpinRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec := &model.SpinRecord{
		ID:        int64(len(f.records) + 1),
		UserID:    userID,
		Reward:    reward,
		CreatedAt: time.Now(),
	}
	f.records = append(f.records, rec)
	return rec, nil
}

func (f *fakeSpins) ListByUser(_ context.Context, userID int64, limit int) ([]*model.SpinRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.SpinRecord
	for i := len(f.records) - 1; i >= 0 && len(out) < limit; i-- {
		if f.records[i].UserID == userID {
			out = append(out, f.records[i])
		}
	}
	return out, nil
}

type fakeTxs struct {
	mu  sync.Mutex
	txs []*model.PointTransaction
}

func (f *fakeTxs) Create(_ context.Context, userID int64, amount int64, txType string, description *string) (*model.PointTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tx := &model.PointTransaction{
		ID:          int64(len(f.txs) + 1),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now(),
	}
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeTxs) ListByUser(_ context.Context, userID int64, limit int) ([]*model.PointTransaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*model.PointTransaction, 0, limit)
	for i := len(f.txs) - 1; i >= 0 && len(out) < limit; i-- {
		if f.txs[i].UserID == userID {
			out = append(out, f.txs[i])
		}
	}
	return out, nil
}

func (f *fakeTxs) countByType(txType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, tx := range f.txs {
		if tx.Type == txType {
			count++
		}
	}
	return count
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages map[int64][]string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{messages: make(map[int64][]string)}
}

func (f *fakeNotifier) Notify(_ context.Context, userID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[userID] = append(f.messages[userID], text)
}

func (f *fakeNotifier) count(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages[userID])
}

type fakeCodes struct {
	mu    sync.Mutex
	codes map[string]*model.RedemptionCode
}

func newFakeCodes() *fakeCodes {
	return &fakeCodes{codes: make(map[string]*model.RedemptionCode)}
}

func (f *fakeCodes) Create(_ context.Context, code string, userID int64, points int64, expiresAt time.Time) (*model.RedemptionCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.codes[code]; ok && existing.UsedAt == nil {
		return nil, repository.ErrCodeExists
	}
	rec := &model.RedemptionCode{
		Code:      code,
		UserID:    userID,
		Points:    points,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now(),
	}
	f.codes[code] = rec
	cp := *rec
	return &cp, nil
}

func (f *fakeCodes) GetByCode(_ context.Context, code string) (*model.RedemptionCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.codes[code]
	if !ok {
		return nil, repository.ErrCodeNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeCodes) Consume(_ context.Context, code string, verifierID int64, now time.Time) (*model.RedemptionCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.codes[code]
	if !ok || rec.UsedAt != nil || !now.Before(rec.ExpiresAt) {
		return nil, repository.ErrCodeNotConsumable
	}
	t := now
	rec.UsedAt = &t
	rec.UsedByID = &verifierID
	cp := *rec
	return &cp, nil
}

type fakeStaff struct {
	ids map[int64]bool
}

func (f *fakeStaff) IsStaff(userID int64) bool { return f.ids[userID] }

// fixedClock builds a civil clock pinned to a moment in UTC.
func fixedClock(now time.Time) *civil.Clock {
	clock, err := civil.NewClockAt("UTC", func() time.Time { return now })
	if err != nil {
		panic(err)
	}
	return clock
}
