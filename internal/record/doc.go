// Package record defines the processed telemetry record and the input accepted
// at ingest.
//
// A Record is immutable once the store has assigned its id. The package also
// owns the error taxonomy shared by the store, ingest and API layers, and the
// wire codecs used when a committed record is pushed to subscribers.
package record
