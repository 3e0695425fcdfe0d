package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/postpartum/tracker/internal/domain/patient"
	"github.com/postpartum/tracker/internal/domain/questionnaire"
)

type mockAccounts struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]*Account
}

func newMockAccounts() *mockAccounts {
	return &mockAccounts{byName: make(map[string]*Account)}
}

func (m *mockAccounts) GetByID(_ context.Context, id int64) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byName {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockAccounts) GetByUsername(_ context.Context, username string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byName[username]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockAccounts) insertLocked(a *Account) {
	m.nextID++
	a.ID = m.nextID
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	m.byName[a.Username] = &cp
}

func (m *mockAccounts) Create(_ context.Context, a *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byName[a.Username]; ok {
		return ErrUsernameTaken
	}
	m.insertLocked(a)
	return nil
}

func (m *mockAccounts) CreateIfAbsent(_ context.Context, a *Account) (*Account, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byName[a.Username]; ok {
		cp := *existing
		return &cp, false, nil
	}
	m.insertLocked(a)
	cp := *a
	return &cp, true, nil
}

func (m *mockAccounts) SetPassword(_ context.Context, id int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byName {
		if a.ID == id {
			a.PasswordHash = &hash
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockAccounts) TouchLogin(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.byName {
		if a.ID == id {
			a.LastLoginAt = &at
			return nil
		}
	}
	return ErrNotFound
}

func (m *mockAccounts) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byName)
}

type mockTokens struct {
	mu        sync.Mutex
	byAccount map[int64]*Token
}

func newMockTokens() *mockTokens {
	return &mockTokens{byAccount: make(map[int64]*Token)}
}

func (m *mockTokens) GetOrCreate(_ context.Context, accountID int64, key string) (*Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.byAccount[accountID]; ok {
		cp := *t
		return &cp, nil
	}
	t := &Token{Key: key, AccountID: accountID, CreatedAt: time.Now()}
	m.byAccount[accountID] = t
	cp := *t
	return &cp, nil
}

func (m *mockTokens) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byAccount)
}

// patientStore backs a real patient.Service so provisioning defaults are the
// production ones.
type patientStore struct {
	mu       sync.Mutex
	patients map[uuid.UUID]*patient.Patient
}

func newPatientStore() *patientStore {
	return &patientStore{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (s *patientStore) GetByID(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, patient.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *patientStore) GetByAccount(_ context.Context, accountID int64) (*patient.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.patients {
		if p.AccountID == accountID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, patient.ErrNotFound
}

func (s *patientStore) Create(ctx context.Context, p *patient.Patient) error {
	if _, created, err := s.CreateIfAbsent(ctx, p); err != nil {
		return err
	} else if !created {
		return patient.ErrAlreadyExists
	}
	return nil
}

func (s *patientStore) CreateIfAbsent(_ context.Context, p *patient.Patient) (*patient.Patient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.patients {
		if existing.AccountID == p.AccountID {
			cp := *existing
			return &cp, false, nil
		}
	}
	p.ID = uuid.New()
	cp := *p
	s.patients[p.ID] = &cp
	out := *p
	return &out, true, nil
}

func (s *patientStore) Update(_ context.Context, p *patient.Patient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.patients[p.ID]; !ok {
		return patient.ErrNotFound
	}
	cp := *p
	s.patients[p.ID] = &cp
	return nil
}

func (s *patientStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.patients)
}

func (s *patientStore) byAccount(accountID int64) *patient.Patient {
	p, _ := s.GetByAccount(context.Background(), accountID)
	return p
}

type mockSeeder struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (m *mockSeeder) EnsureDefault(context.Context) (*questionnaire.Questionnaire, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return questionnaire.Default(), nil
}

type mockExchanger struct {
	mu      sync.Mutex
	idToken string
	err     error
	calls   int
}

func (m *mockExchanger) Exchange(context.Context, string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	return m.idToken, m.err
}
