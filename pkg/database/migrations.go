package database

// Schema and index DDL lives entirely in pkg/database/migrations/*.sql,
// applied by golang-migrate in client.go. Nothing here — unlike the
// full-text GIN indexes an Ent-schema-driven setup needs bolted on after
// the fact, the stream/event schema's indexes are all expressible as
// plain migration statements.
