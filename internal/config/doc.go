// Package config loads roadwatch configuration.
//
// Values are layered, lowest precedence first: the built-in baseline, an
// optional YAML file, an optional .env file, then ROADWATCH_* environment
// variables. The Postgres connection may also be given through the
// POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER and
// POSTGRES_PASSWORD variables used by earlier deployments.
package config
