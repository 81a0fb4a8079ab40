package sqlstore

import "github.com/goliatone/go-credentials/core"

var (
	_ core.TokenStore    = (*TokenStore)(nil)
	_ core.RecordScanner = (*TokenStore)(nil)
	_ core.TokenStore    = (*CachedTokenStore)(nil)
	_ core.RecordScanner = (*CachedTokenStore)(nil)
)
