// Package providers implements the external OAuth2 provider contract on top
// of golang.org/x/oauth2. Provider presets live in subpackages.
package providers
