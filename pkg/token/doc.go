// Package token generates opaque identifiers and unguessable secrets for the
// identity system, and provides one-way hashing with constant-time matching
// for secrets that must never be stored in plaintext, such as recovery
// tokens and audited network addresses.
package token
