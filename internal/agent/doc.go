// Package agent keeps the in-memory directory of agents seen by ingest.
package agent
