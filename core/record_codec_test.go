package core

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRecordCodecCredentialRoundTrip(t *testing.T) {
	ctx := context.Background()
	codec := recordCodec{sealer: reverseSealer{}}
	expires := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	credential := ExternalCredential{
		ResourceID:   "R1",
		ProviderID:   "youtube",
		State:        CredentialStateConnected,
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Scopes:       []string{"youtube.upload"},
		ExpiresAt:    &expires,
	}

	payload, err := codec.encodeCredential(ctx, credential)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if strings.Contains(string(payload), "refresh") {
		t.Fatalf("expected sealed payload")
	}
	decoded, err := codec.decodeCredential(ctx, Record{Key: CredentialKey("youtube", "R1"), Version: 4, Payload: payload})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.RefreshToken != "refresh" || decoded.Version != 4 || !decoded.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected decoded credential %#v", decoded)
	}
}

func TestRecordCodecRejectsForeignPayloads(t *testing.T) {
	ctx := context.Background()
	codec := recordCodec{}

	if _, err := codec.decodeSession(ctx, Record{Key: "session/a", Payload: []byte(`{"format":"other","version":1}`)}); err == nil {
		t.Fatalf("expected unsupported format error")
	}
	payload, err := codec.encodeCredential(ctx, NewExternalCredential("youtube", "R1"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := codec.decodeSession(ctx, Record{Key: "session/a", Payload: payload}); err == nil {
		t.Fatalf("expected credential payload to be rejected as a session")
	}
}

func TestRecordKeys(t *testing.T) {
	if got := CredentialKey(" YouTube ", "R1"); got != "credential/youtube/R1" {
		t.Fatalf("unexpected credential key %q", got)
	}
	if RecordKindForKey(SessionKey("abc")) != RecordKindSession {
		t.Fatalf("expected session kind")
	}
	if RecordKindForKey("other/abc") != "" {
		t.Fatalf("expected unknown kind for foreign keys")
	}
}
