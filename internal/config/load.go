//
//
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g.
// ROADWATCH_STREAM_QUEUESIZE or ROADWATCH_STORE_DRIVER.
const EnvPrefix = "ROADWATCH"

// LoadOptions locates optional inputs. Empty fields fall back to searching
// for roadwatch.yaml in . and /etc/roadwatch, and .env in the working
// directory.
type LoadOptions struct {
	ConfigFile string
	EnvFile    string
}

// Load merges Baseline, the config file, the .env file and the environment,
// then validates the result.
func Load(opts LoadOptions) (*Config, error) {
	v := viper.New()

	if err := setDefaults(v, Baseline()); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}

	if err := readConfigFile(v, opts.ConfigFile); err != nil {
		return nil, err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	dotenv, err := readDotEnv(opts.EnvFile)
	if err != nil {
		return nil, err
	}
	applyDotEnv(v, dotenv)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Store.PostgresDSN == "" {
		cfg.Store.PostgresDSN = postgresDSNFromEnv(dotenv)
	}
	// defaults pass through YAML, which turns a nil list into an empty one
	if len(cfg.Stream.OriginPatterns) == 0 {
		cfg.Stream.OriginPatterns = nil
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every baseline key so that AutomaticEnv and
// Unmarshal know about keys the file does not mention.
func setDefaults(v *viper.Viper, base *Config) error {
	raw, err := yaml.Marshal(base)
	if err != nil {
		return err
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return err
	}
	walkDefaults(v, "", tree)
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, node map[string]any) {
	for k, val := range node {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if child, ok := val.(map[string]any); ok {
			walkDefaults(v, key, child)
			continue
		}
		v.SetDefault(key, val)
	}
}

func readConfigFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	v.SetConfigName("roadwatch")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/roadwatch")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// readDotEnv returns the keys of the .env file, upper-cased. A missing
// default .env is not an error; a missing explicit one is.
func readDotEnv(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	dv := viper.New()
	dv.SetConfigFile(path)
	dv.SetConfigType("env")
	if err := dv.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read env file %s: %w", path, err)
	}

	out := make(map[string]string, len(dv.AllKeys()))
	for _, k := range dv.AllKeys() {
		out[strings.ToUpper(k)] = dv.GetString(k)
	}
	return out, nil
}

// applyDotEnv sets keys from the .env file unless the real environment
// already provides them.
func applyDotEnv(v *viper.Viper, dotenv map[string]string) {
	for _, key := range v.AllKeys() {
		name := envName(key)
		if _, ok := os.LookupEnv(name); ok {
			continue
		}
		if val, ok := dotenv[name]; ok {
			v.Set(key, val)
		}
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// postgresDSNFromEnv builds a DSN from the POSTGRES_* variables. It returns
// "" when POSTGRES_HOST is unset.
func postgresDSNFromEnv(dotenv map[string]string) string {
	get := func(name, def string) string {
		if val, ok := os.LookupEnv(name); ok && val != "" {
			return val
		}
		if val, ok := dotenv[name]; ok && val != "" {
			return val
		}
		return def
	}

	host := get("POSTGRES_HOST", "")
	if host == "" {
		return ""
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(get("POSTGRES_USER", "postgres"), get("POSTGRES_PASSWORD", "")),
		Host:     net.JoinHostPort(host, get("POSTGRES_PORT", "5432")),
		Path:     "/" + get("POSTGRES_DB", "postgres"),
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// Dump renders cfg as YAML with secrets masked.
func Dump(cfg *Config) ([]byte, error) {
	masked := *cfg
	if masked.Auth.SecretKey != "" {
		masked.Auth.SecretKey = "********"
	}
	if masked.Store.PostgresDSN != "" {
		if u, err := url.Parse(masked.Store.PostgresDSN); err == nil {
			masked.Store.PostgresDSN = u.Redacted()
		}
	}
	return yaml.Marshal(&masked)
}
