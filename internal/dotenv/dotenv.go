// Package dotenv bootstraps process configuration from dotenv-style
// files. Values already present in the environment always win.
package dotenv

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadFile loads KEY=VALUE pairs from the given file into the process
// environment. A missing file is not an error.
func LoadFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Bootstrap loads the working directory's .env and then the per-user
// config file, in that order. Earlier files and the live environment
// take precedence over later ones.
func Bootstrap() error {
	if err := LoadFile(".env"); err != nil {
		return err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return LoadFile(filepath.Join(home, ".config", "afya", "env"))
}
