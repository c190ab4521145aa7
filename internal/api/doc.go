// Package api implements the roadwatch HTTP surface.
//
// Routes under /api/v1 answer in a unified JSON envelope
// {result, data, code, message, details, correlationId}. The
// /processed_agent_data/ routes keep the bare snake_case bodies of the
// service roadwatch replaces.
package api
