package configutil

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// EnvString overrides *target with the variable when it is set and not blank.
func EnvString(target *string, name string) {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return
	}
	*target = strings.TrimSpace(value)
}

// EnvBool overrides *target with the variable when it is set, the accepted
// spellings are those of strconv.ParseBool.
func EnvBool(target *bool, name string) error {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("env %s: %w", name, err)
	}
	*target = parsed
	return nil
}
