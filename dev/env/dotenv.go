package devenv

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads a .env file from the working directory and from the
// workspace root, variables already present in the environment win.
func LoadDotEnv() error {
	candidates := []string{".env"}
	if root, err := GetWorkspaceRoot(); err == nil {
		candidates = append(candidates, filepath.Join(root, ".env"))
	}

	seen := map[string]bool{}
	for _, path := range candidates {
		abs, err := filepath.Abs(path)
		if err != nil || seen[abs] {
			continue
		}
		seen[abs] = true

		if _, err := os.Stat(abs); os.IsNotExist(err) {
			continue
		}
		err = godotenv.Load(abs)
		if err != nil {
			return err
		}
	}
	return nil
}
