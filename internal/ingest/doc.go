// Package ingest validates, persists and fans out telemetry records.
//
// A record is dispatched only after the store has committed it, and
// records for one agent are dispatched in commit order. Queries and
// mutations other than create pass through to the store and never reach
// subscribers.
package ingest
