// Package integration is the domain of the sync engine: connections from an
// organization to an ERP or storefront account, and the data that flows
// through them.
//
// Integration and Credential describe the connection. SyncState tracks the
// incremental cursor for one entity type. ExternalRecord is a normalized
// platform record and Conflict reports a field whose values disagree.
// WebhookEvent is a verified inbound notification.
//
// Repository and platform interfaces are declared here and implemented
// under internal/infrastructure.
package integration
