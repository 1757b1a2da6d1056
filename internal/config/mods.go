package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"mmu/internal/domain"
	appErrors "mmu/internal/errors"
)

// ModsFileName is the mods document looked up in the working directory and
// next to the executable.
const ModsFileName = "mmu_config.json"

const keyGroups = "mods"

// executablePath is swapped in tests.
var executablePath = os.Executable

// ResolveModsPath picks the mods file location. An explicit path wins, then
// the config.path setting, then ./mmu_config.json, then mmu_config.json next
// to the running executable.
func ResolveModsPath(explicit string) (string, error) {
	if p := strings.TrimSpace(explicit); p != "" {
		return p, nil
	}
	if p := strings.TrimSpace(GetString(KeyConfigPath)); p != "" {
		return p, nil
	}

	var candidates []string
	if wd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(wd, ModsFileName))
	}
	if exe, err := executablePath(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ModsFileName))
	}

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", appErrors.New(
		appErrors.CodeConfigMissing,
		fmt.Sprintf("no %s found (looked in %s)", ModsFileName, strings.Join(candidates, ", ")),
		fs.ErrNotExist,
	)
}

// LoadMods reads and decodes the mods document at path.
func LoadMods(path string) (domain.Configuration, error) {
	//nolint:gosec // G304: the mods file path is chosen by the user
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.Configuration{}, appErrors.New(appErrors.CodeConfigMissing, fmt.Sprintf("config file %s does not exist", path), err)
	}
	if err != nil {
		return domain.Configuration{}, appErrors.New(appErrors.CodeConfigMissing, fmt.Sprintf("read %s: %v", path, err), err)
	}
	return ParseMods(data)
}

// ParseMods decodes a mods document. The top-level "mods" array is required,
// keys match exactly and every field must be present with its JSON type.
// Unknown keys are ignored.
func ParseMods(data []byte) (domain.Configuration, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return domain.Configuration{}, invalidConfig("config file is empty", nil)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return domain.Configuration{}, invalidConfig(fmt.Sprintf("parse config: %v", err), err)
	}
	if _, ok := raw[keyGroups]; !ok {
		return domain.Configuration{}, invalidConfig(fmt.Sprintf("config is missing the %q array", keyGroups), nil)
	}

	var cfg domain.Configuration
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: false,
		ErrorUnset:       true,
		MatchName: func(mapKey, fieldName string) bool {
			return mapKey == fieldName
		},
	})
	if err != nil {
		return domain.Configuration{}, invalidConfig(fmt.Sprintf("decode config: %v", err), err)
	}
	if err := decoder.Decode(raw); err != nil {
		return domain.Configuration{}, invalidConfig(fmt.Sprintf("decode config: %v", err), err)
	}
	return cfg, nil
}

func invalidConfig(msg string, err error) error {
	return appErrors.New(appErrors.CodeConfigInvalid, msg, err)
}
