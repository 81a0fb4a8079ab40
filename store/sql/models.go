package sqlstore

import (
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type credentialRecordModel struct {
	bun.BaseModel `bun:"table:credential_records,alias:cr"`

	ID        string    `bun:"id,pk"`
	RecordKey string    `bun:"record_key,notnull"`
	Kind      string    `bun:"kind,notnull"`
	Version   int64     `bun:"version,notnull"`
	Payload   []byte    `bun:"payload,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func newCredentialRecordModel(key string, payload []byte, now time.Time) *credentialRecordModel {
	return &credentialRecordModel{
		ID:        uuid.NewString(),
		RecordKey: key,
		Kind:      string(core.RecordKindForKey(key)),
		Version:   1,
		Payload:   append([]byte(nil), payload...),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (m *credentialRecordModel) toDomain() core.Record {
	if m == nil {
		return core.Record{}
	}
	return core.Record{
		Key:       strings.TrimSpace(m.RecordKey),
		Kind:      core.RecordKind(m.Kind),
		Version:   m.Version,
		Payload:   append([]byte(nil), m.Payload...),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}
