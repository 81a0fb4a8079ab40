package query

import (
	"context"

	"github.com/goliatone/go-credentials/core"
)

type SessionReader interface {
	Current(ctx context.Context, sessionID string) (core.Session, error)
}

type CredentialStatusReader interface {
	Status(ctx context.Context, resourceID string) (core.CredentialStatus, error)
}

type ProviderInfoReader interface {
	ProviderInfo() core.ProviderInfo
}

type CurrentSessionQuery struct {
	reader SessionReader
}

func NewCurrentSessionQuery(reader SessionReader) *CurrentSessionQuery {
	return &CurrentSessionQuery{reader: reader}
}

func (q *CurrentSessionQuery) Query(ctx context.Context, msg CurrentSessionMessage) (core.Session, error) {
	if q == nil || q.reader == nil {
		return core.Session{}, queryDependencyError("query: session reader is required")
	}
	return q.reader.Current(ctx, msg.SessionID)
}

type CredentialStatusQuery struct {
	reader CredentialStatusReader
}

func NewCredentialStatusQuery(reader CredentialStatusReader) *CredentialStatusQuery {
	return &CredentialStatusQuery{reader: reader}
}

func (q *CredentialStatusQuery) Query(ctx context.Context, msg CredentialStatusMessage) (core.CredentialStatus, error) {
	if q == nil || q.reader == nil {
		return core.CredentialStatus{}, queryDependencyError("query: credential status reader is required")
	}
	return q.reader.Status(ctx, msg.ResourceID)
}

type ProviderInfoQuery struct {
	reader ProviderInfoReader
}

func NewProviderInfoQuery(reader ProviderInfoReader) *ProviderInfoQuery {
	return &ProviderInfoQuery{reader: reader}
}

func (q *ProviderInfoQuery) Query(_ context.Context, _ ProviderInfoMessage) (core.ProviderInfo, error) {
	if q == nil || q.reader == nil {
		return core.ProviderInfo{}, queryDependencyError("query: provider info reader is required")
	}
	return q.reader.ProviderInfo(), nil
}
