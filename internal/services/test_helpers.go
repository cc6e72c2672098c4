package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/models"
	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
)

// testEscrowKey is a 64-char hex key, used raw by the envelope cipher
const testEscrowKey = "6b1f5e0c2a9d4e7f8a3b6c1d0e9f2a5b7c4d1e8f3a6b9c2d5e0f7a4b1c8d3e6f"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequestContext(ip string) models.RequestContext {
	return models.RequestContext{
		Method:    "POST",
		Path:      "/api/auth/login",
		ClientIP:  ip,
		UserAgent: "finvault-test",
		Now:       time.Now().UTC(),
	}
}

func testSession() *models.Session {
	return &models.Session{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		TokenType:    "bearer",
		UserID:       "user-123",
		Email:        "alice@example.com",
	}
}

// ============================================================================
// Login attempt ledger
// ============================================================================

// MockLoginAttemptStore is an in-memory LoginAttemptStore
type MockLoginAttemptStore struct {
	mu      sync.Mutex
	rows    map[string]models.LoginAttemptState
	GetErr  error
	Cleared int
}

func NewMockLoginAttemptStore() *MockLoginAttemptStore {
	return &MockLoginAttemptStore{rows: make(map[string]models.LoginAttemptState)}
}

func ledgerKey(email, ip string) string {
	return email + "|" + ip
}

func (m *MockLoginAttemptStore) Get(ctx context.Context, email, ipAddress string) (*models.LoginAttemptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	row, ok := m.rows[ledgerKey(email, ipAddress)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &row, nil
}

func (m *MockLoginAttemptStore) Modify(ctx context.Context, email, ipAddress string, fn func(*models.LoginAttemptState)) (*models.LoginAttemptState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(email, ipAddress)
	row, ok := m.rows[key]
	if !ok {
		row = models.LoginAttemptState{Email: email, IPAddress: ipAddress}
	}
	fn(&row)
	m.rows[key] = row
	out := row
	return &out, nil
}

func (m *MockLoginAttemptStore) Clear(ctx context.Context, email, ipAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleared++
	key := ledgerKey(email, ipAddress)
	if row, ok := m.rows[key]; ok {
		row.FailedCount = 0
		row.LockUntil = nil
		m.rows[key] = row
	}
	return nil
}

// Set seeds a ledger row
func (m *MockLoginAttemptStore) Set(state models.LoginAttemptState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[ledgerKey(state.Email, state.IPAddress)] = state
}

// ============================================================================
// OTP challenges
// ============================================================================

// MockOTPChallengeRepository is an in-memory OTPChallengeRepository with the
// same conditional-update rules as the SQL implementation
type MockOTPChallengeRepository struct {
	mu         sync.Mutex
	challenges map[string]models.OTPChallenge
	CreateErr  error
	Deleted    []string

	Reservations int
}

func NewMockOTPChallengeRepository() *MockOTPChallengeRepository {
	return &MockOTPChallengeRepository{challenges: make(map[string]models.OTPChallenge)}
}

func (m *MockOTPChallengeRepository) Create(ctx context.Context, challenge *models.OTPChallenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	challenge.CreatedAt = time.Now().UTC()
	m.challenges[challenge.ID] = *challenge
	return nil
}

func (m *MockOTPChallengeRepository) GetByID(ctx context.Context, id string) (*models.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &c, nil
}

func (m *MockOTPChallengeRepository) ReserveAttempt(ctx context.Context, id string, now time.Time) (*models.OTPChallenge, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.ConsumedAt != nil || c.AttemptsCount >= c.MaxAttempts || now.After(c.ExpiresAt) {
		return nil, models.ErrNotFound
	}
	c.AttemptsCount++
	m.challenges[id] = c
	m.Reservations++
	return &c, nil
}

// ReservationCount returns how many attempts were granted a code comparison
func (m *MockOTPChallengeRepository) ReservationCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Reservations
}

func (m *MockOTPChallengeRepository) Consume(ctx context.Context, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.challenges[id]
	if !ok || c.ConsumedAt != nil {
		return false, nil
	}
	c.ConsumedAt = &now
	m.challenges[id] = c
	return true, nil
}

func (m *MockOTPChallengeRepository) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.challenges, id)
	m.Deleted = append(m.Deleted, id)
	return nil
}

func (m *MockOTPChallengeRepository) DeleteExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.challenges {
		if c.ExpiresAt.Before(cutoff) {
			delete(m.challenges, id)
			n++
		}
	}
	return n, nil
}

// Update rewrites a stored challenge
func (m *MockOTPChallengeRepository) Update(fn func(*models.OTPChallenge)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, c := range m.challenges {
		fn(&c)
		m.challenges[id] = c
	}
}

func (m *MockOTPChallengeRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.challenges)
}

// ============================================================================
// Security events
// ============================================================================

// MockSecurityEventRepository keeps events in memory
type MockSecurityEventRepository struct {
	mu        sync.Mutex
	events    []*models.SecurityEvent
	CreateErr error

	// Block holds Create until it is closed or ctx ends
	Block chan struct{}
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) error {
	if m.Block != nil {
		select {
		case <-m.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	m.events = append(m.events, event)
	return nil
}

func (m *MockSecurityEventRepository) GetLatestForUser(ctx context.Context, userID, eventType string) (*models.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.SecurityEvent
	for _, e := range m.events {
		if e.UserID == nil || *e.UserID != userID || e.EventType != eventType {
			continue
		}
		if latest == nil || !e.CreatedAt.Before(latest.CreatedAt) {
			latest = e
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	return latest, nil
}

func (m *MockSecurityEventRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*models.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*models.SecurityEvent{}
	for _, e := range m.events {
		if e.UserID != nil && *e.UserID == userID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Types returns the recorded event types in order
func (m *MockSecurityEventRepository) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	types := make([]string, 0, len(m.events))
	for _, e := range m.events {
		types = append(types, e.EventType)
	}
	return types
}

// Find returns the first event of eventType
func (m *MockSecurityEventRepository) Find(eventType string) *models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.events {
		if e.EventType == eventType {
			return e
		}
	}
	return nil
}

// ============================================================================
// Outbound collaborators
// ============================================================================

// MockIdentityProvider implements IdentityProvider for testing
type MockIdentityProvider struct {
	VerifyPasswordFunc func(ctx context.Context, email, password string) (*models.Session, error)
	Calls              int
}

func (m *MockIdentityProvider) VerifyPassword(ctx context.Context, email, password string) (*models.Session, error) {
	m.Calls++
	if m.VerifyPasswordFunc != nil {
		return m.VerifyPasswordFunc(ctx, email, password)
	}
	return nil, models.ErrInvalidCredentials
}

// MockCodeSender captures delivered codes
type MockCodeSender struct {
	mu       sync.Mutex
	Err      error
	LastTo   string
	LastCode string
	LastIP   string
	Sent     int
}

func (m *MockCodeSender) SendLoginCode(ctx context.Context, to, code string, expiresAt time.Time, requestIP string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.LastTo, m.LastCode, m.LastIP = to, code, requestIP
	m.Sent++
	return nil
}

func (m *MockCodeSender) Code() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.LastCode
}

// MockMailer records sent messages
type MockMailer struct {
	mu       sync.Mutex
	Err      error
	Messages []EmailMessage
}

func (m *MockMailer) Send(ctx context.Context, msg EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockMailer) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// MockPushSender records push messages
type MockPushSender struct {
	mu       sync.Mutex
	Err      error
	Messages []PushMessage
}

func (m *MockPushSender) SendPush(ctx context.Context, msg PushMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Messages = append(m.Messages, msg)
	return nil
}

func (m *MockPushSender) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Messages)
}

// MockLoginNotifier records alerts synchronously
type MockLoginNotifier struct {
	mu     sync.Mutex
	Alerts []NewLoginAlert
}

func (m *MockLoginNotifier) NotifyNewLogin(ctx context.Context, alert NewLoginAlert) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = append(m.Alerts, alert)
}

// ============================================================================
// Fixtures
// ============================================================================

type loginFixture struct {
	ledger   *MockLoginAttemptStore
	otpRepo  *MockOTPChallengeRepository
	events   *MockSecurityEventRepository
	idp      *MockIdentityProvider
	sender   *MockCodeSender
	notifier *MockLoginNotifier
	audit    *AuditService
	lockout  *LockoutService
	otp      *OTPService
	login    *LoginService
}

type fixtureOptions struct {
	escrowKey     string
	strictIP      bool
	allowDegraded bool
	maxFailures   int
	maxAttempts   int
}

func defaultFixtureOptions() fixtureOptions {
	return fixtureOptions{
		escrowKey:     testEscrowKey,
		allowDegraded: true,
		maxFailures:   5,
		maxAttempts:   5,
	}
}

func newLoginFixture(opts fixtureOptions) *loginFixture {
	logger := discardLogger()
	f := &loginFixture{
		ledger:   NewMockLoginAttemptStore(),
		otpRepo:  NewMockOTPChallengeRepository(),
		events:   &MockSecurityEventRepository{},
		sender:   &MockCodeSender{},
		notifier: &MockLoginNotifier{},
		idp: &MockIdentityProvider{
			VerifyPasswordFunc: func(ctx context.Context, email, password string) (*models.Session, error) {
				if password != "correct-horse" {
					return nil, models.ErrInvalidCredentials
				}
				return testSession(), nil
			},
		},
	}

	f.audit = NewAuditService(f.events, pkglogger.NewAuditLogger(logger), logger)
	f.lockout = NewLockoutService(f.ledger, LockoutConfig{
		MaxFailedAttempts: opts.maxFailures,
		LockoutDuration:   15 * time.Minute,
	}, logger)

	cipher := auth.NewEnvelopeCipher(opts.escrowKey)
	f.otp = NewOTPService(f.otpRepo, cipher, auth.NewSecretHasher(4, cipher.PrimaryKey()), f.sender, f.audit, OTPConfig{
		TTL:         10 * time.Minute,
		MaxAttempts: opts.maxAttempts,
		StrictIP:    opts.strictIP,
	}, logger)

	f.login = NewLoginService(f.idp, f.lockout, f.otp, f.audit, f.notifier, nil,
		LoginConfig{AllowDegraded: opts.allowDegraded}, logger)
	return f
}

// flush waits for background audit writes
func (f *loginFixture) flush() {
	_ = f.audit.Wait(context.Background())
}
