// Package core contains the credential lifecycle contracts, value objects and
// the session and credential managers. Storage, transport and provider
// adapters depend on this package; core must not depend on them.
package core
