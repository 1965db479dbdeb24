// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain types to keep the domain layer pure and free
// from ORM concerns.
//
// Key Principles:
// 1. Domain types should be free of GORM tags and infrastructure concerns
// 2. Persistence models contain all GORM annotations and table mappings
// 3. Mappers convert between domain types and persistence models
// 4. Repositories use persistence models for database operations
//
// Structure:
// - event.go: Append-only event log with the store-wide global position
// - scope.go: Consistency scopes (virtual streams) and their stream registry
// - command.go: Command-deduplication ledger and command-event correlation
// - processmanager.go: Process-manager instance state and dead letters
// - outbox.go: Command outbox model for durable command delivery
package models
