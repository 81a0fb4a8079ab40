package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	RecordPayloadFormatJSON = "credentials_record_json"
	RecordPayloadVersionV1  = 1
)

const (
	sessionKeyPrefix    = "session/"
	credentialKeyPrefix = "credential/"
)

func SessionKey(sessionID string) string {
	return sessionKeyPrefix + strings.TrimSpace(sessionID)
}

func CredentialKey(providerID, resourceID string) string {
	return CredentialKeyPrefix(providerID) + strings.TrimSpace(resourceID)
}

func CredentialKeyPrefix(providerID string) string {
	return credentialKeyPrefix + strings.TrimSpace(strings.ToLower(providerID)) + "/"
}

// RecordKindForKey infers the record kind from the key namespace.
func RecordKindForKey(key string) RecordKind {
	switch {
	case strings.HasPrefix(key, sessionKeyPrefix):
		return RecordKindSession
	case strings.HasPrefix(key, credentialKeyPrefix):
		return RecordKindCredential
	default:
		return ""
	}
}

type recordEnvelope struct {
	Format     string             `json:"format"`
	Version    int                `json:"version"`
	Session    *sessionPayload    `json:"session,omitempty"`
	Credential *credentialPayload `json:"credential,omitempty"`
}

type sessionPayload struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	DisplayName       string     `json:"display_name,omitempty"`
	Role              string     `json:"role"`
	AccessToken       string     `json:"access_token"`
	AccessTokenExpiry *time.Time `json:"access_token_expiry,omitempty"`
	RefreshToken      string     `json:"refresh_token,omitempty"`
	IssuedAt          time.Time  `json:"issued_at"`
	VerifiedAt        time.Time  `json:"verified_at"`
	RefreshStartedAt  *time.Time `json:"refresh_started_at,omitempty"`
}

type credentialPayload struct {
	ResourceID                string     `json:"resource_id"`
	ProviderID                string     `json:"provider_id"`
	State                     string     `json:"state"`
	AccessToken               string     `json:"access_token,omitempty"`
	RefreshToken              string     `json:"refresh_token,omitempty"`
	TokenType                 string     `json:"token_type,omitempty"`
	Scopes                    []string   `json:"scopes,omitempty"`
	ExpiresAt                 *time.Time `json:"expires_at,omitempty"`
	PendingAuthorizationState string     `json:"pending_authorization_state,omitempty"`
	AwaitingExpiresAt         *time.Time `json:"awaiting_expires_at,omitempty"`
	ExchangeStartedAt         *time.Time `json:"exchange_started_at,omitempty"`
	RefreshStartedAt          *time.Time `json:"refresh_started_at,omitempty"`
	ConnectedAt               *time.Time `json:"connected_at,omitempty"`
	LastError                 string     `json:"last_error,omitempty"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

// recordCodec turns value objects into store payloads. When a sealer is
// configured every payload is encrypted before it leaves the process.
type recordCodec struct {
	sealer SecretProvider
}

func (c recordCodec) encodeSession(ctx context.Context, session Session) ([]byte, error) {
	return c.encode(ctx, recordEnvelope{
		Format:  RecordPayloadFormatJSON,
		Version: RecordPayloadVersionV1,
		Session: &sessionPayload{
			ID:                strings.TrimSpace(session.ID),
			UserID:            strings.TrimSpace(session.UserID),
			DisplayName:       strings.TrimSpace(session.DisplayName),
			Role:              string(session.Role),
			AccessToken:       session.AccessToken,
			AccessTokenExpiry: cloneTimePointer(session.AccessTokenExpiry),
			RefreshToken:      session.RefreshToken,
			IssuedAt:          session.IssuedAt.UTC(),
			VerifiedAt:        session.VerifiedAt.UTC(),
			RefreshStartedAt:  cloneTimePointer(session.RefreshStartedAt),
		},
	})
}

func (c recordCodec) decodeSession(ctx context.Context, record Record) (Session, error) {
	envelope, err := c.decode(ctx, record)
	if err != nil {
		return Session{}, err
	}
	if envelope.Session == nil {
		return Session{}, fmt.Errorf("core: record %q does not hold a session", record.Key)
	}
	payload := envelope.Session
	return Session{
		ID:                payload.ID,
		UserID:            payload.UserID,
		DisplayName:       payload.DisplayName,
		Role:              Role(payload.Role),
		AccessToken:       payload.AccessToken,
		AccessTokenExpiry: cloneTimePointer(payload.AccessTokenExpiry),
		RefreshToken:      payload.RefreshToken,
		IssuedAt:          payload.IssuedAt.UTC(),
		VerifiedAt:        payload.VerifiedAt.UTC(),
		RefreshStartedAt:  cloneTimePointer(payload.RefreshStartedAt),
		Version:           record.Version,
	}, nil
}

func (c recordCodec) encodeCredential(ctx context.Context, credential ExternalCredential) ([]byte, error) {
	return c.encode(ctx, recordEnvelope{
		Format:  RecordPayloadFormatJSON,
		Version: RecordPayloadVersionV1,
		Credential: &credentialPayload{
			ResourceID:                strings.TrimSpace(credential.ResourceID),
			ProviderID:                strings.TrimSpace(credential.ProviderID),
			State:                     string(credential.State.normalized()),
			AccessToken:               credential.AccessToken,
			RefreshToken:              credential.RefreshToken,
			TokenType:                 strings.TrimSpace(credential.TokenType),
			Scopes:                    append([]string(nil), credential.Scopes...),
			ExpiresAt:                 cloneTimePointer(credential.ExpiresAt),
			PendingAuthorizationState: credential.PendingAuthorizationState,
			AwaitingExpiresAt:         cloneTimePointer(credential.AwaitingExpiresAt),
			ExchangeStartedAt:         cloneTimePointer(credential.ExchangeStartedAt),
			RefreshStartedAt:          cloneTimePointer(credential.RefreshStartedAt),
			ConnectedAt:               cloneTimePointer(credential.ConnectedAt),
			LastError:                 credential.LastError,
			UpdatedAt:                 credential.UpdatedAt.UTC(),
		},
	})
}

func (c recordCodec) decodeCredential(ctx context.Context, record Record) (ExternalCredential, error) {
	envelope, err := c.decode(ctx, record)
	if err != nil {
		return ExternalCredential{}, err
	}
	if envelope.Credential == nil {
		return ExternalCredential{}, fmt.Errorf("core: record %q does not hold a credential", record.Key)
	}
	payload := envelope.Credential
	return ExternalCredential{
		ResourceID:                payload.ResourceID,
		ProviderID:                payload.ProviderID,
		State:                     CredentialState(payload.State).normalized(),
		AccessToken:               payload.AccessToken,
		RefreshToken:              payload.RefreshToken,
		TokenType:                 payload.TokenType,
		Scopes:                    append([]string(nil), payload.Scopes...),
		ExpiresAt:                 cloneTimePointer(payload.ExpiresAt),
		PendingAuthorizationState: payload.PendingAuthorizationState,
		AwaitingExpiresAt:         cloneTimePointer(payload.AwaitingExpiresAt),
		ExchangeStartedAt:         cloneTimePointer(payload.ExchangeStartedAt),
		RefreshStartedAt:          cloneTimePointer(payload.RefreshStartedAt),
		ConnectedAt:               cloneTimePointer(payload.ConnectedAt),
		LastError:                 payload.LastError,
		UpdatedAt:                 payload.UpdatedAt.UTC(),
		Version:                   record.Version,
	}, nil
}

func (c recordCodec) encode(ctx context.Context, envelope recordEnvelope) ([]byte, error) {
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("core: encode record payload: %w", err)
	}
	if c.sealer == nil {
		return encoded, nil
	}
	sealed, err := c.sealer.Encrypt(ctx, encoded)
	if err != nil {
		return nil, fmt.Errorf("core: seal record payload: %w", err)
	}
	return sealed, nil
}

func (c recordCodec) decode(ctx context.Context, record Record) (recordEnvelope, error) {
	if len(record.Payload) == 0 {
		return recordEnvelope{}, fmt.Errorf("core: record %q payload is empty", record.Key)
	}
	raw := record.Payload
	if c.sealer != nil {
		opened, err := c.sealer.Decrypt(ctx, raw)
		if err != nil {
			return recordEnvelope{}, fmt.Errorf("core: open record payload: %w", err)
		}
		raw = opened
	}
	envelope := recordEnvelope{}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return recordEnvelope{}, fmt.Errorf("core: decode record payload: %w", err)
	}
	if envelope.Format != RecordPayloadFormatJSON {
		return recordEnvelope{}, fmt.Errorf("core: unsupported record payload format %q", envelope.Format)
	}
	if envelope.Version != RecordPayloadVersionV1 {
		return recordEnvelope{}, fmt.Errorf("core: unsupported record payload version %d", envelope.Version)
	}
	return envelope, nil
}
