package configutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// Layered json5 configuration: `<name>.json5` carries the checked-in
// defaults, `<name>.local.json5` carries machine-local values that stay
// out of version control, portal credentials and captcha keys above
// all. The local layer wins on conflict.

func localPath(name string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + ".local" + ext
}

// readLayer decodes one file into T. A missing or empty file yields
// the zero value and found=false; anything else that goes wrong is an
// error.
func readLayer[T any](path string) (T, bool, error) {
	var out T
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, false, nil
	}
	if err != nil {
		return out, false, err
	}
	if len(raw) == 0 {
		return out, false, nil
	}
	err = json5.Unmarshal(raw, &out)
	if err != nil {
		return out, false, fmt.Errorf("%s: %s", path, err)
	}
	return out, true, nil
}

// ReadConfig loads `name` and merges its `.local` sibling over it.
// Returns os.ErrNotExist when neither layer exists.
func ReadConfig[T any](name string) (T, error) {
	config, foundBase, err := readLayer[T](name)
	if err != nil {
		return config, err
	}

	local := localPath(name)
	override, foundLocal, err := readLayer[T](local)
	if err != nil {
		return config, err
	}
	if foundLocal {
		err = mergo.Merge(&config, override, mergo.WithOverride)
		if err != nil {
			return config, err
		}
		slog.Info("merging config with local overrides", "local", local)
	}

	if !foundBase && !foundLocal {
		return config, os.ErrNotExist
	}
	return config, nil
}

// ReadRecursively is ReadConfig walking up from the working directory
// to the filesystem root, so a harvest run started from a subdirectory
// still picks up the repo-root telemetry.json5.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	current, err := os.Getwd()
	if err != nil {
		return zero, err
	}

	for {
		config, err := ReadConfig[T](filepath.Join(current, name))
		if err == nil {
			return config, nil
		}
		if !os.IsNotExist(err) {
			return zero, err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return zero, os.ErrNotExist
		}
		current = parent
	}
}
