// Package store defines the Record Store port used by ingest and the query
// API, plus the helpers shared by its implementations.
//
// Implementations live in sub-packages (memory, sqlite, postgres) and must
// pass storetest.RunConformance. All of them normalize failures to
// record.ErrNotFound or a *record.StorageError.
package store
