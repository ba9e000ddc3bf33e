// Package config loads the properties file that drives a migration run
// and turns it into the typed structs the rest of mongox consumes.
//
// It holds a small .properties reader (Load, with ${timestamp}
// substitution) and the adapter from that file format to the
// MigrationConfig/TableMapping types the engine actually operates on.
package config

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Properties is a flat key=value view of a loaded properties file,
// after ${timestamp} substitution and environment overrides.
type Properties map[string]string

var timestampPlaceholder = regexp.MustCompile(`\$\{timestamp}`)

// Load reads a Java-style .properties file: one `key = value` or
// `key: value` pair per line, `#` and `!` comment lines, blank lines
// ignored. ${timestamp} is replaced with seconds since epoch at load
// time.
func Load(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open properties file %q: %w", path, err)
	}
	defer f.Close()

	now := strconv.FormatInt(time.Now().Unix(), 10)
	props := make(Properties)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		key, value, ok := splitProperty(line)
		if !ok {
			continue
		}
		value = timestampPlaceholder.ReplaceAllString(value, now)
		props[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading properties file %q: %w", path, err)
	}
	return props, nil
}

func splitProperty(line string) (key, value string, ok bool) {
	sep := strings.IndexAny(line, "=:")
	if sep < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:sep]), strings.TrimSpace(line[sep+1:]), true
}

// OverrideFromEnv applies a documented subset of environment variables
// that may override file values. Only keys explicitly listed are
// eligible; anything else in the environment is ignored so a run stays
// reproducible from the properties file alone.
var overridableEnvKeys = map[string]string{
	"MONGOX_MONGO_URI":          "mongo.uri",
	"MONGOX_YUGABYTE_HOST":      "yugabyte.host",
	"MONGOX_YUGABYTE_PASSWORD":  "yugabyte.password",
	"MONGOX_MIGRATION_RUN_ID":   "migration.runId",
	"MONGOX_MIGRATION_PREV_RUN": "migration.prevRunId",
}

func (p Properties) OverrideFromEnv(lookup func(string) (string, bool)) {
	for env, key := range overridableEnvKeys {
		if v, ok := lookup(env); ok && v != "" {
			p[key] = v
		}
	}
}

func (p Properties) Get(key, fallback string) string {
	if v, ok := p[key]; ok && v != "" {
		return v
	}
	return fallback
}

func (p Properties) GetInt(key string, fallback int) int {
	v, ok := p[key]
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (p Properties) GetBool(key string, fallback bool) bool {
	v, ok := p[key]
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func (p Properties) GetInt64(key string, fallback int64) int64 {
	v, ok := p[key]
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

// WithPrefix returns all key=value pairs whose key starts with
// prefix+".", keyed by the remainder. Used for table.columnMapping.<src>
// and table.typeMapping.<srcType> style properties.
func (p Properties) WithPrefix(prefix string) map[string]string {
	out := make(map[string]string)
	full := prefix + "."
	for k, v := range p {
		if strings.HasPrefix(k, full) {
			out[strings.TrimPrefix(k, full)] = v
		}
	}
	return out
}
