//
//
package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks struct tags first, then the rules that span fields.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := structValidator.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("configuration validation failed: %w", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, e := range verrs {
			msgs = append(msgs, "  - "+formatValidationError(e))
		}
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(msgs, "\n"))
	}

	if err := validateStream(&cfg.Stream); err != nil {
		return fmt.Errorf("stream validation failed: %w", err)
	}

	if err := validateStore(&cfg.Store); err != nil {
		return fmt.Errorf("store validation failed: %w", err)
	}

	if err := validateAuth(&cfg.Auth); err != nil {
		return fmt.Errorf("auth validation failed: %w", err)
	}

	if cfg.Audit.Enabled && cfg.Audit.Dir == "" {
		return fmt.Errorf("audit validation failed: dir must be set when audit is enabled")
	}

	return nil
}

func validateStream(s *StreamConfig) error {
	// Heartbeat jitter must be ≤ 50% of interval
	if s.HeartbeatJitter > s.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", s.HeartbeatJitter, s.HeartbeatInterval)
	}

	// A full replay plus the ready frame must fit in a fresh queue
	if s.QueueSize < s.BufferSize+1 {
		return fmt.Errorf("queue size %d must be at least buffer size + 1 (%d)", s.QueueSize, s.BufferSize+1)
	}

	return nil
}

func validateStore(s *StoreConfig) error {
	switch s.Driver {
	case DriverPostgres:
		if s.PostgresDSN == "" {
			return fmt.Errorf("postgresDSN must be set when driver is postgres (or set POSTGRES_HOST)")
		}
	case DriverSQLite:
		if s.SQLitePath == "" {
			return fmt.Errorf("sqlitePath must be set when driver is sqlite")
		}
	}
	return nil
}

func validateAuth(a *AuthConfig) error {
	if !a.Enabled {
		return nil
	}
	switch a.Algorithm {
	case "HS256":
		if a.SecretKey == "" {
			return fmt.Errorf("secretKey must be set for HS256")
		}
	case "RS256":
		if a.PublicKeyPEM == "" {
			return fmt.Errorf("publicKeyPEM must be set for RS256")
		}
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	path := e.Namespace()
	if _, rest, ok := strings.Cut(path, "."); ok {
		path = rest
	}

	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", path)
	case "gt":
		return fmt.Sprintf("%s must be greater than %s (got: %v)", path, e.Param(), e.Value())
	case "gte":
		return fmt.Sprintf("%s must be at least %s (got: %v)", path, e.Param(), e.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s] (got: %v)", path, e.Param(), e.Value())
	case "startswith":
		return fmt.Sprintf("%s must start with %q (got: %v)", path, e.Param(), e.Value())
	default:
		return fmt.Sprintf("%s failed validation '%s' (got: %v)", path, e.Tag(), e.Value())
	}
}
