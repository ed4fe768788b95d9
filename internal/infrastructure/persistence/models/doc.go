// Package models holds the GORM table mappings for the sync engine.
//
// Each model converts to and from its domain type with ToDomain and
// FromDomain, so repositories never hand GORM structs to callers.
// Credential payloads stay encrypted in these models; decryption happens in
// the credential store.
package models
