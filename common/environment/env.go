// Package environment reads typed settings from process environment
// variables. Every helper takes a fallback so callers never branch on
// "unset" themselves; only RequiredString can fail.
package environment

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv merges the given dotenv files into the environment. Variables
// already set in the process win over file values, and files that do not
// exist are skipped.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("environment: load %s: %w", p, err)
		}
	}
	return nil
}

// String returns the raw value of name and whether it was set at all.
func String(name string) (string, bool) {
	return os.LookupEnv(name)
}

// StringOr returns the value of name, or def when it is unset or empty.
func StringOr(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

// RequiredString returns the value of name or an error naming the variable.
func RequiredString(name string) (string, error) {
	if v := os.Getenv(name); v != "" {
		return v, nil
	}
	return "", fmt.Errorf("required environment variable %q is not set", name)
}

// parsed applies parse to the value of name, returning def when the variable
// is empty or does not parse.
func parsed[T any](name string, def T, parse func(string) (T, error)) T {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

// BoolOr accepts anything strconv.ParseBool does.
func BoolOr(name string, def bool) bool {
	return parsed(name, def, strconv.ParseBool)
}

// IntOr parses a base-10 integer.
func IntOr(name string, def int) int {
	return parsed(name, def, strconv.Atoi)
}

// FloatOr parses a 64-bit float.
func FloatOr(name string, def float64) float64 {
	return parsed(name, def, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// DurationOr parses values such as "30s" or "2h".
func DurationOr(name string, def time.Duration) time.Duration {
	return parsed(name, def, time.ParseDuration)
}

// StringSliceOr splits a comma-separated value, dropping blank elements.
// def is returned when nothing remains.
func StringSliceOr(name string, def []string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(name), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
