// Package audit writes an append-only JSON-lines trail of record mutations:
// who did what to which agent's record, and how it ended.
//
// The file rotates by size through lumberjack.
package audit
