package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const refreshPollInterval = 250 * time.Millisecond

// CredentialManager owns the per-resource OAuth2 credential state machine for
// one external provider.
type CredentialManager struct {
	runtime    managerRuntime
	store      TokenStore
	provider   ExternalProvider
	providerID string

	refreshes singleflight.Group
}

func NewCredentialManager(store TokenStore, provider ExternalProvider, cfg Config, options ...Option) (*CredentialManager, error) {
	if store == nil {
		return nil, fmt.Errorf("core: token store is required")
	}
	if provider == nil {
		return nil, fmt.Errorf("core: external provider is required")
	}
	runtime, err := buildRuntime(cfg, options)
	if err != nil {
		return nil, err
	}
	providerID := strings.TrimSpace(strings.ToLower(provider.ID()))
	if providerID == "" {
		providerID = strings.TrimSpace(strings.ToLower(runtime.config.Credential.ProviderID))
	}
	return &CredentialManager{
		runtime:    runtime,
		store:      store,
		provider:   provider,
		providerID: providerID,
	}, nil
}

func (m *CredentialManager) ProviderID() string {
	if m == nil {
		return ""
	}
	return m.providerID
}

func (m *CredentialManager) Config() Config {
	if m == nil {
		return Config{}
	}
	return m.runtime.config
}

// ProviderInfo exposes the public client configuration of the provider. The
// client secret is never part of it.
func (m *CredentialManager) ProviderInfo() ProviderInfo {
	info := ProviderInfo{}
	if describer, ok := m.provider.(ProviderDescriber); ok {
		info = describer.Describe()
	}
	info.ProviderID = m.providerID
	info.Scopes = append([]string(nil), info.Scopes...)
	return info
}

// BeginAuthorization issues a fresh authorization URL for the resource. A
// pending authorization is replaced so that previously issued URLs can no
// longer be exchanged.
func (m *CredentialManager) BeginAuthorization(ctx context.Context, resourceID string) (start AuthorizationStart, err error) {
	startedAt := time.Now()
	resourceID = strings.TrimSpace(resourceID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "credential_begin_authorization", err, m.fields(resourceID, CredentialStateAwaitingCode))
	}()
	if resourceID == "" {
		return AuthorizationStart{}, BadInputError("resource id is required")
	}
	if err := m.runtime.resourceGate.AuthorizeResource(ctx, resourceID); err != nil {
		return AuthorizationStart{}, m.runtime.mapError(err)
	}

	nonce, err := m.runtime.nonces.NewNonce()
	if err != nil {
		return AuthorizationStart{}, InternalError("generate authorization state", err)
	}
	authorizationURL, err := m.provider.AuthorizationURL(ctx, AuthorizationURLRequest{
		ResourceID: resourceID,
		State:      nonce,
	})
	if err != nil {
		return AuthorizationStart{}, InternalError("build authorization url", err)
	}

	var expiresAt time.Time
	_, err = m.mutate(ctx, resourceID, func(credential *ExternalCredential, now time.Time) error {
		if err := credential.TransitionTo(CredentialStateAwaitingCode, now); err != nil {
			return err
		}
		expiresAt = now.Add(m.runtime.config.Credential.AuthorizationTTL)
		credential.PendingAuthorizationState = nonce
		credential.AwaitingExpiresAt = &expiresAt
		credential.LastError = ""
		return nil
	})
	if err != nil {
		return AuthorizationStart{}, err
	}
	return AuthorizationStart{
		ResourceID:       resourceID,
		AuthorizationURL: authorizationURL,
		State:            nonce,
		ExpiresAt:        expiresAt,
	}, nil
}

// ExchangeCode completes a pending authorization. The returned state must
// match the pending one exactly; a mismatch is rejected without touching the
// stored credential. The pending state is claimed with a versioned write
// before the provider is called, so a replayed callback never reaches it.
func (m *CredentialManager) ExchangeCode(ctx context.Context, resourceID string, code string, returnedState string) (credential ExternalCredential, err error) {
	startedAt := time.Now()
	resourceID = strings.TrimSpace(resourceID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "credential_exchange_code", err, m.fields(resourceID, credential.State))
	}()
	if resourceID == "" {
		return ExternalCredential{}, BadInputError("resource id is required")
	}
	if strings.TrimSpace(code) == "" {
		return ExternalCredential{}, BadInputError("authorization code is required")
	}
	if err := m.runtime.resourceGate.AuthorizeResource(ctx, resourceID); err != nil {
		return ExternalCredential{}, m.runtime.mapError(err)
	}

	current, err := m.load(ctx, resourceID)
	if err != nil {
		return ExternalCredential{}, err
	}
	if current.State.normalized() != CredentialStateAwaitingCode || current.PendingAuthorizationState == "" {
		return ExternalCredential{}, InvalidAuthorizationStateError("no authorization is pending for this resource")
	}
	if returnedState == "" || subtle.ConstantTimeCompare([]byte(returnedState), []byte(current.PendingAuthorizationState)) != 1 {
		return ExternalCredential{}, InvalidAuthorizationStateError("authorization state does not match")
	}
	if current.AuthorizationClaimed() {
		return ExternalCredential{}, InvalidAuthorizationStateError("authorization state was already consumed")
	}

	now := m.runtime.now()
	if current.AuthorizationExpired(now) {
		if _, resetErr := m.resetFrom(ctx, current, now, "authorization expired"); resetErr != nil && !errors.Is(resetErr, ErrVersionConflict) {
			return ExternalCredential{}, resetErr
		}
		return ExternalCredential{}, InvalidAuthorizationStateError("authorization request expired")
	}

	claimed := current.clone()
	claimedAt := now
	claimed.ExchangeStartedAt = &claimedAt
	claimed.UpdatedAt = now
	claimed, err = m.write(ctx, claimed)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ExternalCredential{}, InvalidAuthorizationStateError("authorization state was already consumed")
		}
		return ExternalCredential{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Credential.ProviderTimeout)
	defer cancel()
	token, exchangeErr := m.provider.ExchangeCode(callCtx, code)
	if exchangeErr == nil && strings.TrimSpace(token.AccessToken) == "" {
		exchangeErr = fmt.Errorf("%w: provider issued an empty access token", ErrRejected)
	}
	if exchangeErr != nil {
		if _, resetErr := m.resetFrom(ctx, claimed, m.runtime.now(), "code exchange failed"); resetErr != nil && !errors.Is(resetErr, ErrVersionConflict) {
			return ExternalCredential{}, resetErr
		}
		return ExternalCredential{}, CodeExchangeFailedError(exchangeErr)
	}

	next := claimed.clone()
	now = m.runtime.now()
	if err := next.TransitionTo(CredentialStateConnected, now); err != nil {
		return ExternalCredential{}, m.runtime.mapError(err)
	}
	m.applyToken(&next, token, now)
	connectedAt := now
	next.ConnectedAt = &connectedAt

	stored, err := m.write(ctx, next)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ExternalCredential{}, InvalidAuthorizationStateError("authorization was replaced while the code was exchanged")
		}
		return ExternalCredential{}, err
	}
	return stored.clone(), nil
}

// Status is a pure read. An expired pending authorization reads as not
// connected without being written back.
func (m *CredentialManager) Status(ctx context.Context, resourceID string) (CredentialStatus, error) {
	resourceID = strings.TrimSpace(resourceID)
	if resourceID == "" {
		return CredentialStatus{}, BadInputError("resource id is required")
	}
	credential, err := m.load(ctx, resourceID)
	if err != nil {
		return CredentialStatus{}, err
	}
	state := credential.EffectiveState(m.runtime.now(), m.runtime.config.Credential.RenewalWindow)
	status := CredentialStatus{
		ResourceID: resourceID,
		ProviderID: m.providerID,
		State:      state,
	}
	switch state {
	case CredentialStateConnected, CredentialStateExpiring, CredentialStateRefreshing:
		status.Connected = true
		status.ExpiresAt = cloneTimePointer(credential.ExpiresAt)
	case CredentialStateAwaitingCode:
		status.AwaitingExpiresAt = cloneTimePointer(credential.AwaitingExpiresAt)
	}
	return status, nil
}

// EnsureValid returns a credential whose access token is valid now,
// refreshing it first when it is inside the renewal window. Concurrent
// callers for the same resource share one refresh.
func (m *CredentialManager) EnsureValid(ctx context.Context, resourceID string) (credential ExternalCredential, err error) {
	startedAt := time.Now()
	resourceID = strings.TrimSpace(resourceID)
	fields := m.fields(resourceID, "")
	defer func() {
		fields["lifecycle_state"] = string(credential.State)
		m.runtime.observeOperation(ctx, startedAt, "credential_ensure_valid", err, fields)
	}()
	if resourceID == "" {
		return ExternalCredential{}, BadInputError("resource id is required")
	}

	current, err := m.load(ctx, resourceID)
	if err != nil {
		return ExternalCredential{}, err
	}
	now := m.runtime.now()
	if m.comfortablyValid(current, now) {
		return current.clone(), nil
	}
	switch current.EffectiveState(now, m.runtime.config.Credential.RenewalWindow) {
	case CredentialStateNotConnected, CredentialStateAwaitingCode:
		return ExternalCredential{}, UnavailableError(resourceID, false, nil)
	}

	results := m.refreshes.DoChan(resourceID, func() (any, error) {
		return m.refreshOnce(ctx, resourceID)
	})
	select {
	case <-ctx.Done():
		return ExternalCredential{}, UnavailableError(resourceID, true, ctx.Err())
	case result := <-results:
		fields["shared"] = result.Shared
		if result.Err != nil {
			return ExternalCredential{}, result.Err
		}
		refreshed := result.Val.(ExternalCredential)
		if !refreshed.Usable(m.runtime.now()) {
			return ExternalCredential{}, UnavailableError(resourceID, true, fmt.Errorf("refreshed credential already expired"))
		}
		return refreshed.clone(), nil
	}
}

// Revoke asks the provider to revoke the grant and always resets the local
// credential to not connected, whatever the provider answered.
func (m *CredentialManager) Revoke(ctx context.Context, resourceID string) (err error) {
	startedAt := time.Now()
	resourceID = strings.TrimSpace(resourceID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "credential_revoke", err, m.fields(resourceID, CredentialStateNotConnected))
	}()
	if resourceID == "" {
		return BadInputError("resource id is required")
	}
	if err := m.runtime.resourceGate.AuthorizeResource(ctx, resourceID); err != nil {
		return m.runtime.mapError(err)
	}

	current, loadErr := m.load(ctx, resourceID)
	if loadErr != nil {
		m.runtime.logWarn(ctx, "credential could not be read before revocation", map[string]any{
			"resource_id": resourceID,
			"provider_id": m.providerID,
			"error":       loadErr.Error(),
		})
	}
	token := current.RefreshToken
	if strings.TrimSpace(token) == "" {
		token = current.AccessToken
	}
	if strings.TrimSpace(token) != "" {
		callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Credential.ProviderTimeout)
		if revokeErr := m.provider.RevokeToken(callCtx, token); revokeErr != nil {
			m.runtime.logWarn(ctx, "provider token revocation failed", map[string]any{
				"resource_id": resourceID,
				"provider_id": m.providerID,
				"error":       revokeErr.Error(),
			})
		}
		cancel()
	}

	reset := NewExternalCredential(m.providerID, resourceID)
	reset.UpdatedAt = m.runtime.now()
	payload, err := m.runtime.codec.encodeCredential(ctx, reset)
	if err != nil {
		return InternalError("encode credential", err)
	}
	if _, err := m.store.Put(ctx, CredentialKey(m.providerID, resourceID), payload); err != nil {
		return InternalError("persist credential", err)
	}
	return nil
}

// CancelAuthorization abandons a pending authorization. It is a no-op for
// any other state.
func (m *CredentialManager) CancelAuthorization(ctx context.Context, resourceID string) (err error) {
	startedAt := time.Now()
	resourceID = strings.TrimSpace(resourceID)
	defer func() {
		m.runtime.observeOperation(ctx, startedAt, "credential_cancel_authorization", err, m.fields(resourceID, CredentialStateNotConnected))
	}()
	if resourceID == "" {
		return BadInputError("resource id is required")
	}
	if err := m.runtime.resourceGate.AuthorizeResource(ctx, resourceID); err != nil {
		return m.runtime.mapError(err)
	}
	_, err = m.mutate(ctx, resourceID, func(credential *ExternalCredential, now time.Time) error {
		if credential.State.normalized() != CredentialStateAwaitingCode {
			return errSkipWrite
		}
		return credential.TransitionTo(CredentialStateNotConnected, now)
	})
	if errors.Is(err, errSkipWrite) {
		return nil
	}
	return err
}

// ExpireStaleAuthorizations moves every pending authorization past its
// deadline back to not connected and returns how many were expired.
func (m *CredentialManager) ExpireStaleAuthorizations(ctx context.Context) (expired int, err error) {
	startedAt := time.Now()
	defer func() {
		fields := m.fields("", "")
		fields["expired"] = expired
		m.runtime.observeOperation(ctx, startedAt, "credential_expire_authorizations", err, fields)
	}()

	credentials, err := m.scan(ctx)
	if err != nil {
		return 0, err
	}
	for _, credential := range credentials {
		now := m.runtime.now()
		if !credential.AuthorizationExpired(now) {
			continue
		}
		if _, resetErr := m.resetFrom(ctx, credential, now, "authorization expired"); resetErr != nil {
			if errors.Is(resetErr, ErrVersionConflict) {
				continue
			}
			return expired, resetErr
		}
		expired++
	}
	return expired, nil
}

// RenewExpiring refreshes every credential that is inside the renewal
// window, expired, or held by an abandoned refresh.
func (m *CredentialManager) RenewExpiring(ctx context.Context) (report RenewalReport, err error) {
	startedAt := time.Now()
	defer func() {
		fields := m.fields("", "")
		fields["scanned"] = report.Scanned
		fields["renewed"] = report.Renewed
		fields["failed"] = len(report.FailedResources)
		m.runtime.observeOperation(ctx, startedAt, "credential_renew_expiring", err, fields)
	}()

	credentials, err := m.scan(ctx)
	if err != nil {
		return RenewalReport{}, err
	}
	for _, credential := range credentials {
		report.Scanned++
		if !m.needsRenewal(credential, m.runtime.now()) {
			report.Skipped++
			continue
		}
		if _, renewErr := m.EnsureValid(ctx, credential.ResourceID); renewErr != nil {
			report.FailedResources = append(report.FailedResources, credential.ResourceID)
			continue
		}
		report.Renewed++
	}
	return report, nil
}

func (m *CredentialManager) needsRenewal(credential ExternalCredential, now time.Time) bool {
	switch credential.EffectiveState(now, m.runtime.config.Credential.RenewalWindow) {
	case CredentialStateExpiring:
		return true
	case CredentialStateRefreshing:
		return m.refreshMarkerStale(credential, now)
	default:
		return false
	}
}

func (m *CredentialManager) refreshOnce(parent context.Context, resourceID string) (ExternalCredential, error) {
	cfg := m.runtime.config.Credential
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(parent), cfg.RefreshLockTTL+cfg.ProviderTimeout)
	defer cancel()

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := m.load(flightCtx, resourceID)
		if err != nil {
			return ExternalCredential{}, err
		}
		now := m.runtime.now()
		switch current.State.normalized() {
		case CredentialStateNotConnected, CredentialStateAwaitingCode:
			return ExternalCredential{}, UnavailableError(resourceID, false, nil)
		case CredentialStateRefreshing:
			if !m.refreshMarkerStale(current, now) {
				if current.Usable(now) {
					return current, nil
				}
				if waitErr := m.waitForRefresh(flightCtx, current); waitErr != nil {
					return ExternalCredential{}, UnavailableError(resourceID, true, waitErr)
				}
				continue
			}
		default:
			if m.comfortablyValid(current, now) {
				return current, nil
			}
		}

		if strings.TrimSpace(current.RefreshToken) == "" {
			if _, resetErr := m.resetFrom(flightCtx, current, now, "no refresh token"); resetErr != nil && !errors.Is(resetErr, ErrVersionConflict) {
				return ExternalCredential{}, resetErr
			}
			return ExternalCredential{}, UnavailableError(resourceID, false, fmt.Errorf("credential has no refresh token"))
		}

		marked := current.clone()
		if err := marked.TransitionTo(CredentialStateRefreshing, now); err != nil {
			return ExternalCredential{}, m.runtime.mapError(err)
		}
		marked, err = m.write(flightCtx, marked)
		if err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return ExternalCredential{}, err
		}
		return m.exchangeRefreshToken(flightCtx, marked)
	}
	return ExternalCredential{}, UnavailableError(resourceID, true, fmt.Errorf("%w: credential kept changing", ErrVersionConflict))
}

// exchangeRefreshToken runs the provider call while the refreshing marker is
// held and settles the credential on the outcome.
func (m *CredentialManager) exchangeRefreshToken(ctx context.Context, marked ExternalCredential) (ExternalCredential, error) {
	resourceID := marked.ResourceID
	callCtx, cancel := context.WithTimeout(ctx, m.runtime.config.Credential.ProviderTimeout)
	token, refreshErr := m.provider.RefreshToken(callCtx, marked.RefreshToken)
	cancel()
	if refreshErr == nil && strings.TrimSpace(token.AccessToken) == "" {
		refreshErr = fmt.Errorf("%w: provider issued an empty access token", ErrRejected)
	}

	now := m.runtime.now()
	if refreshErr != nil {
		if isRejection(refreshErr) {
			if _, resetErr := m.resetFrom(ctx, marked, now, "refresh rejected"); resetErr != nil && !errors.Is(resetErr, ErrVersionConflict) {
				return ExternalCredential{}, resetErr
			}
			return ExternalCredential{}, UnavailableError(resourceID, false, refreshErr)
		}

		reverted := marked.clone()
		if err := reverted.TransitionTo(CredentialStateConnected, now); err != nil {
			return ExternalCredential{}, m.runtime.mapError(err)
		}
		reverted.LastError = "refresh temporarily failed"
		if _, writeErr := m.write(ctx, reverted); writeErr != nil {
			m.runtime.logWarn(ctx, "credential refresh marker could not be released", map[string]any{
				"resource_id": resourceID,
				"provider_id": m.providerID,
				"error":       writeErr.Error(),
			})
		}
		if reverted.Usable(now) {
			return reverted, nil
		}
		return ExternalCredential{}, UnavailableError(resourceID, true, refreshErr)
	}

	next := marked.clone()
	if err := next.TransitionTo(CredentialStateConnected, now); err != nil {
		return ExternalCredential{}, m.runtime.mapError(err)
	}
	m.applyToken(&next, token, now)
	stored, err := m.write(ctx, next)
	if err == nil {
		return stored, nil
	}
	if !errors.Is(err, ErrVersionConflict) {
		return ExternalCredential{}, err
	}
	// The marker was overwritten, usually by a revoke or a new authorization.
	latest, loadErr := m.load(ctx, resourceID)
	if loadErr == nil && latest.State.normalized() == CredentialStateConnected && latest.Usable(m.runtime.now()) {
		return latest, nil
	}
	return ExternalCredential{}, UnavailableError(resourceID, false, err)
}

func (m *CredentialManager) waitForRefresh(ctx context.Context, marked ExternalCredential) error {
	ticker := time.NewTicker(refreshPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		latest, err := m.load(ctx, marked.ResourceID)
		if err != nil {
			return err
		}
		if latest.Version != marked.Version || m.refreshMarkerStale(latest, m.runtime.now()) {
			return nil
		}
	}
}

func (m *CredentialManager) comfortablyValid(credential ExternalCredential, now time.Time) bool {
	if credential.State.normalized() != CredentialStateConnected || !credential.Usable(now) {
		return false
	}
	return credential.ExpiresAt.After(now.Add(m.runtime.config.Credential.RenewalWindow))
}

func (m *CredentialManager) refreshMarkerStale(credential ExternalCredential, now time.Time) bool {
	if credential.RefreshStartedAt == nil {
		return true
	}
	return !credential.RefreshStartedAt.Add(m.runtime.config.Credential.RefreshLockTTL).After(now)
}

func (m *CredentialManager) applyToken(credential *ExternalCredential, token ProviderToken, now time.Time) {
	credential.AccessToken = token.AccessToken
	if strings.TrimSpace(token.RefreshToken) != "" {
		credential.RefreshToken = token.RefreshToken
	}
	if tokenType := strings.TrimSpace(token.TokenType); tokenType != "" {
		credential.TokenType = tokenType
	}
	if len(token.Scopes) > 0 {
		credential.Scopes = append([]string(nil), token.Scopes...)
	}
	expiresAt := now.Add(m.runtime.config.Credential.DefaultTokenTTL)
	if token.ExpiresAt != nil && !token.ExpiresAt.IsZero() {
		expiresAt = token.ExpiresAt.UTC()
	}
	credential.ExpiresAt = &expiresAt
}

var errSkipWrite = errors.New("core: nothing to write")

// mutate loads the credential, applies fn and writes it back with CAS,
// retrying a bounded number of times on concurrent writes.
func (m *CredentialManager) mutate(ctx context.Context, resourceID string, fn func(*ExternalCredential, time.Time) error) (ExternalCredential, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := m.load(ctx, resourceID)
		if err != nil {
			return ExternalCredential{}, err
		}
		next := current.clone()
		if err := fn(&next, m.runtime.now()); err != nil {
			if errors.Is(err, errSkipWrite) {
				return current, err
			}
			return ExternalCredential{}, m.runtime.mapError(err)
		}
		stored, err := m.write(ctx, next)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return ExternalCredential{}, err
		}
	}
	return ExternalCredential{}, m.runtime.mapError(fmt.Errorf("%w: credential %q kept changing", ErrVersionConflict, resourceID))
}

// resetFrom moves a credential read at a known version to not connected.
func (m *CredentialManager) resetFrom(ctx context.Context, current ExternalCredential, now time.Time, reason string) (ExternalCredential, error) {
	next := current.clone()
	if err := next.TransitionTo(CredentialStateNotConnected, now); err != nil {
		return ExternalCredential{}, m.runtime.mapError(err)
	}
	next.LastError = reason
	return m.write(ctx, next)
}

func (m *CredentialManager) write(ctx context.Context, credential ExternalCredential) (ExternalCredential, error) {
	if err := credential.Validate(); err != nil {
		return ExternalCredential{}, InternalError("credential invariant violated", err)
	}
	payload, err := m.runtime.codec.encodeCredential(ctx, credential)
	if err != nil {
		return ExternalCredential{}, InternalError("encode credential", err)
	}
	record, err := m.store.CompareAndSwap(ctx, CredentialKey(m.providerID, credential.ResourceID), credential.Version, payload)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			return ExternalCredential{}, err
		}
		return ExternalCredential{}, InternalError("persist credential", err)
	}
	credential.Version = record.Version
	return credential, nil
}

func (m *CredentialManager) load(ctx context.Context, resourceID string) (ExternalCredential, error) {
	record, err := m.store.Get(ctx, CredentialKey(m.providerID, resourceID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return NewExternalCredential(m.providerID, resourceID), nil
		}
		return ExternalCredential{}, InternalError("load credential", err)
	}
	credential, err := m.runtime.codec.decodeCredential(ctx, record)
	if err != nil {
		return ExternalCredential{}, InternalError("decode credential", err)
	}
	return credential, nil
}

func (m *CredentialManager) scan(ctx context.Context) ([]ExternalCredential, error) {
	scanner, ok := m.store.(RecordScanner)
	if !ok {
		return nil, InternalError("token store does not support scanning", nil)
	}
	records, err := scanner.Scan(ctx, CredentialKeyPrefix(m.providerID))
	if err != nil {
		return nil, InternalError("scan credentials", err)
	}
	out := make([]ExternalCredential, 0, len(records))
	for _, record := range records {
		credential, err := m.runtime.codec.decodeCredential(ctx, record)
		if err != nil {
			m.runtime.logWarn(ctx, "skipping undecodable credential record", map[string]any{
				"provider_id": m.providerID,
				"record_key":  record.Key,
				"error":       err.Error(),
			})
			continue
		}
		out = append(out, credential)
	}
	return out, nil
}

func (m *CredentialManager) fields(resourceID string, state CredentialState) map[string]any {
	fields := map[string]any{
		"provider_id": m.providerID,
	}
	if resourceID != "" {
		fields["resource_id"] = resourceID
	}
	if state != "" {
		fields["lifecycle_state"] = string(state)
	}
	return fields
}
