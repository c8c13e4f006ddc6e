// Package models contains the GORM persistence models of the connector
// tables. They are kept apart from the domain types so the domain layer
// carries no ORM tags; each model converts with ToDomain and FromDomain.
//
// JSON columns (binding data, record values, job args) are stored as jsonb
// on PostgreSQL and as text on SQLite.
package models
