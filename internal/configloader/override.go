package configloader

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// override sets *field from the environment variable env when it is set and
// parses cleanly; a missing variable or a parse failure leaves the loaded
// YAML value untouched.
func override[T any](field *T, env string, parse func(string) (T, error)) {
	val := os.Getenv(env)
	if val == "" {
		return
	}
	if v, err := parse(val); err == nil {
		*field = v
	}
}

// OverrideString overrides a string field if the environment variable is set.
func OverrideString(field *string, env string) {
	override(field, env, func(s string) (string, error) { return s, nil })
}

// OverrideInt overrides an int field if the environment variable is set.
func OverrideInt(field *int, env string) {
	override(field, env, strconv.Atoi)
}

// OverrideInt64 overrides an int64 field if the environment variable holds a
// valid integer (e.g. "1024").
func OverrideInt64(field *int64, env string) {
	override(field, env, func(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) })
}

// OverrideFloat overrides a float64 field if the environment variable is set.
func OverrideFloat(field *float64, env string) {
	override(field, env, func(s string) (float64, error) { return strconv.ParseFloat(s, 64) })
}

// OverrideBool overrides a bool field if the environment variable is set to
// a recognizable truth value.
func OverrideBool(field *bool, env string) {
	override(field, env, strconv.ParseBool)
}

// OverrideDuration overrides a time.Duration field if the environment
// variable holds a valid Go duration (e.g. "1500ms", "2m").
func OverrideDuration(field *time.Duration, env string) {
	override(field, env, time.ParseDuration)
}

// OverrideStringSlice overrides a []string field if the environment variable
// is set. The variable must be a comma-separated list (e.g.
// "node-1,node-2,node-3"); blank elements are dropped.
func OverrideStringSlice(field *[]string, env string) {
	override(field, env, func(s string) ([]string, error) {
		parts := strings.Split(s, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		return trimmed, nil
	})
}
