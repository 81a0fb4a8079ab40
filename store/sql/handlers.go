package sqlstore

import (
	"strings"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

func credentialRecordHandlers() repository.ModelHandlers[*credentialRecordModel] {
	return repository.ModelHandlers[*credentialRecordModel]{
		NewRecord: func() *credentialRecordModel {
			return &credentialRecordModel{}
		},
		GetID: func(record *credentialRecordModel) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *credentialRecordModel, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "record_key"
		},
		GetIdentifierValue: func(record *credentialRecordModel) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.RecordKey)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
