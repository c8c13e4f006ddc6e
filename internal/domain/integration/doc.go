// Package integration contains the Integration bounded context.
// This context links internal ERP records to records held by external
// commerce backends (Magento 1.7 and 2.0) and describes the ports the
// synchronization core talks through.
//
// Key concepts:
//   - Binding: identity record tying one internal entity to one external record in one backend
//   - Backend: one configured external system (version, location, credentials, sync strategy)
//   - Entity: an internal record the connector decorates but does not own
//   - BackendAdapter: port performing remote search/read/create/update/delete for one resource
//   - Job: deferred unit of work deduplicated by identity key and priority
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package integration
