package core

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sequenceNonces struct {
	next atomic.Int64
}

func (s *sequenceNonces) NewNonce() (string, error) {
	return fmt.Sprintf("S%d", s.next.Add(1)), nil
}

func rejected(message string) error {
	return goerrors.New(message, goerrors.CategoryAuth).WithCode(401).WithTextCode("UNAUTHORIZED")
}

func unreachable(message string) error {
	return fmt.Errorf("dial tcp 10.0.0.1:443: %s", message)
}

type fakeIdentity struct {
	mu            sync.Mutex
	users         map[string]string
	roles         map[string]Role
	validTokens   map[string]string
	refreshTokens map[string]string
	issued        int
	clock         *fakeClock

	authenticateErr error
	verifyErr       error
	refreshErr      error
	revokeErr       error
	changeErr       error

	refreshGate    chan struct{}
	refreshStarted chan struct{}
	refreshCalls   atomic.Int64
	revokeCalls    atomic.Int64
	verifyCalls    atomic.Int64
}

func newFakeIdentity(clock *fakeClock) *fakeIdentity {
	return &fakeIdentity{
		users:         map[string]string{"ada": "correct-horse"},
		roles:         map[string]Role{"ada": RoleOperator},
		validTokens:   map[string]string{},
		refreshTokens: map[string]string{},
		clock:         clock,
	}
}

func (f *fakeIdentity) issueLocked(userID string) IssuedTokens {
	f.issued++
	access := fmt.Sprintf("access-%d", f.issued)
	refresh := fmt.Sprintf("refresh-%d", f.issued)
	f.validTokens[access] = userID
	f.refreshTokens[refresh] = userID
	expires := f.clock.Now().Add(15 * time.Minute)
	return IssuedTokens{AccessToken: access, RefreshToken: refresh, ExpiresAt: &expires}
}

func (f *fakeIdentity) Authenticate(_ context.Context, credentials LoginCredentials) (Authentication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authenticateErr != nil {
		return Authentication{}, f.authenticateErr
	}
	if password, ok := f.users[credentials.Username]; !ok || password != credentials.Password {
		return Authentication{}, rejected("invalid username or password")
	}
	return Authentication{
		Principal: Principal{UserID: credentials.Username, DisplayName: "Ada", Role: f.roles[credentials.Username]},
		Tokens:    f.issueLocked(credentials.Username),
	}, nil
}

func (f *fakeIdentity) VerifyToken(_ context.Context, accessToken string) (Principal, error) {
	f.verifyCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return Principal{}, f.verifyErr
	}
	userID, ok := f.validTokens[accessToken]
	if !ok {
		return Principal{}, rejected("token expired")
	}
	return Principal{UserID: userID, DisplayName: "Ada", Role: f.roles[userID]}, nil
}

func (f *fakeIdentity) ExchangeRefreshToken(ctx context.Context, refreshToken string) (IssuedTokens, error) {
	f.refreshCalls.Add(1)
	if f.refreshStarted != nil {
		select {
		case f.refreshStarted <- struct{}{}:
		default:
		}
	}
	if f.refreshGate != nil {
		select {
		case <-f.refreshGate:
		case <-ctx.Done():
			return IssuedTokens{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return IssuedTokens{}, f.refreshErr
	}
	userID, ok := f.refreshTokens[refreshToken]
	if !ok {
		return IssuedTokens{}, rejected("invalid refresh token")
	}
	delete(f.refreshTokens, refreshToken)
	return f.issueLocked(userID), nil
}

func (f *fakeIdentity) RevokeToken(_ context.Context, accessToken string) error {
	f.revokeCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.validTokens, accessToken)
	return f.revokeErr
}

func (f *fakeIdentity) ChangePassword(_ context.Context, accessToken string, currentPassword string, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.changeErr != nil {
		return f.changeErr
	}
	userID, ok := f.validTokens[accessToken]
	if !ok || f.users[userID] != currentPassword {
		return rejected("current password is incorrect")
	}
	f.users[userID] = newPassword
	return nil
}

func (f *fakeIdentity) invalidateAll() {
	f.mu.Lock()
	f.validTokens = map[string]string{}
	f.mu.Unlock()
}

type fakeProvider struct {
	mu       sync.Mutex
	id       string
	clock    *fakeClock
	ttl      time.Duration
	codes    map[string]bool
	issued   int
	refreshT map[string]bool

	exchangeErr error
	refreshErr  error
	revokeErr   error

	refreshGate     chan struct{}
	exchangeGate    chan struct{}
	exchangeStarted chan struct{}
	exchangeCalls   atomic.Int64
	refreshCalls    atomic.Int64
	revokeCalls     atomic.Int64
	revokedTokens   []string
}

func newFakeProvider(clock *fakeClock) *fakeProvider {
	return &fakeProvider{
		id:       "youtube",
		clock:    clock,
		ttl:      time.Hour,
		codes:    map[string]bool{"code-abc": true, "code-xyz": true, "code-1": true, "code-2": true},
		refreshT: map[string]bool{},
	}
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) AuthorizationURL(_ context.Context, req AuthorizationURLRequest) (string, error) {
	query := url.Values{}
	query.Set("client_id", "client-1")
	query.Set("state", req.State)
	query.Set("access_type", "offline")
	return "https://accounts.example.com/o/oauth2/auth?" + query.Encode(), nil
}

func (p *fakeProvider) issueLocked() ProviderToken {
	p.issued++
	refresh := fmt.Sprintf("yt-refresh-%d", p.issued)
	p.refreshT[refresh] = true
	expires := p.clock.Now().Add(p.ttl)
	return ProviderToken{
		AccessToken:  fmt.Sprintf("yt-access-%d", p.issued),
		RefreshToken: refresh,
		TokenType:    "Bearer",
		Scopes:       []string{"youtube.upload"},
		ExpiresAt:    &expires,
	}
}

func (p *fakeProvider) ExchangeCode(ctx context.Context, code string) (ProviderToken, error) {
	p.exchangeCalls.Add(1)
	if p.exchangeStarted != nil {
		select {
		case p.exchangeStarted <- struct{}{}:
		default:
		}
	}
	if p.exchangeGate != nil {
		select {
		case <-p.exchangeGate:
		case <-ctx.Done():
			return ProviderToken{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exchangeErr != nil {
		return ProviderToken{}, p.exchangeErr
	}
	if !p.codes[code] {
		return ProviderToken{}, fmt.Errorf("%w: invalid_grant", ErrRejected)
	}
	delete(p.codes, code)
	return p.issueLocked(), nil
}

func (p *fakeProvider) RefreshToken(ctx context.Context, refreshToken string) (ProviderToken, error) {
	p.refreshCalls.Add(1)
	if p.refreshGate != nil {
		select {
		case <-p.refreshGate:
		case <-ctx.Done():
			return ProviderToken{}, ctx.Err()
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.refreshErr != nil {
		return ProviderToken{}, p.refreshErr
	}
	if !p.refreshT[refreshToken] {
		return ProviderToken{}, fmt.Errorf("oauth2: %q \"Token has been expired or revoked.\"", "invalid_grant")
	}
	delete(p.refreshT, refreshToken)
	return p.issueLocked(), nil
}

func (p *fakeProvider) RevokeToken(_ context.Context, token string) error {
	p.revokeCalls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revokedTokens = append(p.revokedTokens, token)
	delete(p.refreshT, token)
	return p.revokeErr
}

func (p *fakeProvider) Describe() ProviderInfo {
	return ProviderInfo{ClientID: "client-1", RedirectURL: "https://app.example/callback", Scopes: []string{"youtube.upload"}}
}

type capturedCounter struct {
	name  string
	value int64
	tags  map[string]string
}

type capturedHistogram struct {
	name  string
	value float64
	tags  map[string]string
}

type captureMetricsRecorder struct {
	mu         sync.Mutex
	counters   []capturedCounter
	histograms []capturedHistogram
}

func (m *captureMetricsRecorder) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, capturedCounter{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) ObserveHistogram(_ context.Context, name string, value float64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms = append(m.histograms, capturedHistogram{name: name, value: value, tags: cloneTags(tags)})
}

func (m *captureMetricsRecorder) hasCounter(name string, status string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.counters {
		if item.name == name && item.tags["status"] == status {
			return true
		}
	}
	return false
}

type capturedLog struct {
	level  string
	msg    string
	fields map[string]any
}

type captureLogger struct {
	mu       *sync.Mutex
	records  *[]capturedLog
	defaults map[string]any
}

func newCaptureLogger() *captureLogger {
	records := []capturedLog{}
	return &captureLogger{mu: &sync.Mutex{}, records: &records, defaults: map[string]any{}}
}

func (l *captureLogger) WithFields(fields map[string]any) Logger {
	merged := cloneFields(l.defaults)
	for key, value := range fields {
		merged[key] = value
	}
	return &captureLogger{mu: l.mu, records: l.records, defaults: merged}
}

func (l *captureLogger) Trace(msg string, args ...any) { l.record("trace", msg, args...) }
func (l *captureLogger) Debug(msg string, args ...any) { l.record("debug", msg, args...) }
func (l *captureLogger) Info(msg string, args ...any)  { l.record("info", msg, args...) }
func (l *captureLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args...) }
func (l *captureLogger) Error(msg string, args ...any) { l.record("error", msg, args...) }
func (l *captureLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args...) }

func (l *captureLogger) WithContext(context.Context) Logger {
	return &captureLogger{mu: l.mu, records: l.records, defaults: cloneFields(l.defaults)}
}

func (l *captureLogger) record(level string, msg string, args ...any) {
	fields := cloneFields(l.defaults)
	for index := 0; index+1 < len(args); index += 2 {
		key, ok := args[index].(string)
		if !ok {
			continue
		}
		fields[key] = args[index+1]
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.records = append(*l.records, capturedLog{level: level, msg: msg, fields: fields})
}

func (l *captureLogger) snapshot() []capturedLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]capturedLog, len(*l.records))
	copy(out, *l.records)
	return out
}

func (l *captureLogger) has(level string, message string) bool {
	for _, item := range l.snapshot() {
		if item.level == level && item.msg == message {
			return true
		}
	}
	return false
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	return l.values, nil
}

type reverseSealer struct{}

func (reverseSealer) Encrypt(_ context.Context, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	for i := range plaintext {
		out[len(plaintext)-1-i] = plaintext[i]
	}
	return out, nil
}

func (s reverseSealer) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	return s.Encrypt(ctx, ciphertext)
}

func newTestSessionManager(t *testing.T, store TokenStore, identity IdentityProvider, clock *fakeClock, options ...Option) *SessionManager {
	t.Helper()
	options = append([]Option{WithClock(clock)}, options...)
	manager, err := NewSessionManager(store, identity, DefaultConfig(), options...)
	if err != nil {
		t.Fatalf("new session manager: %v", err)
	}
	return manager
}

func newTestCredentialManager(t *testing.T, store TokenStore, provider ExternalProvider, clock *fakeClock, options ...Option) *CredentialManager {
	t.Helper()
	options = append([]Option{WithClock(clock), WithNonceSource(&sequenceNonces{})}, options...)
	manager, err := NewCredentialManager(store, provider, DefaultConfig(), options...)
	if err != nil {
		t.Fatalf("new credential manager: %v", err)
	}
	return manager
}
