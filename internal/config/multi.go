package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// DefaultLabel names the profile written by InitDefaultConfig.
const DefaultLabel = "Default"

const profileExt = ".yaml"

var (
	ErrNoConfig     = errors.New("no config selected")
	ErrInvalidLabel = errors.New("invalid profile label")
)

// configRoot honours ARCHIVIST_CONFIG_DIR first, then the platform config dir.
func configRoot() string {
	if dir := os.Getenv("ARCHIVIST_CONFIG_DIR"); dir != "" {
		return dir
	}
	if appdata := os.Getenv("APPDATA"); appdata != "" {
		return filepath.Join(appdata, "archivist")
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "archivist")
	}

	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "archivist")
}

// ConfigsDir holds one <label>.yaml per profile.
func ConfigsDir() string {
	return filepath.Join(configRoot(), "configs")
}

func currentLabelFile() string {
	return filepath.Join(configRoot(), "current_config")
}

// ProfilePath returns where the profile called label lives.
func ProfilePath(label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" || label == "." || label == ".." || strings.ContainsAny(label, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return filepath.Join(ConfigsDir(), label+profileExt), nil
}

func activate(label string) error {
	if err := os.MkdirAll(configRoot(), 0755); err != nil {
		return err
	}
	return os.WriteFile(currentLabelFile(), []byte(label), 0644)
}

func currentLabel() (string, error) {
	b, err := os.ReadFile(currentLabelFile())
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNoConfig
	}
	if err != nil {
		return "", err
	}

	label := strings.TrimSpace(string(b))
	if label == "" {
		return "", ErrNoConfig
	}
	return label, nil
}

// ActiveConfigPath is the file of the selected profile, or ErrNoConfig.
func ActiveConfigPath() (string, error) {
	label, err := currentLabel()
	if err != nil {
		return "", err
	}
	return ProfilePath(label)
}

type ConfigInfo struct {
	Label    string
	Path     string
	Active   bool
	Modified time.Time
}

// ListConfigs returns every profile sorted by label.
func ListConfigs() ([]ConfigInfo, error) {
	entries, err := os.ReadDir(ConfigsDir())
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	active, _ := currentLabel()
	var out []ConfigInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != profileExt {
			continue
		}

		ci := ConfigInfo{
			Label: strings.TrimSuffix(name, profileExt),
			Path:  filepath.Join(ConfigsDir(), name),
		}
		ci.Active = ci.Label == active
		if info, err := e.Info(); err == nil {
			ci.Modified = info.ModTime()
		}
		out = append(out, ci)
	}

	slices.SortFunc(out, func(a, b ConfigInfo) int { return strings.Compare(a.Label, b.Label) })
	return out, nil
}

// SwitchConfig makes an existing profile the active one.
func SwitchConfig(label string) error {
	path, err := ProfilePath(label)
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("profile %q does not exist", label)
	}

	return activate(strings.TrimSpace(label))
}

// InitDefaultConfig writes Default.yaml and activates it. If the file is
// already there it is only activated and os.ErrExist is returned.
func InitDefaultConfig() (string, error) {
	path, err := ProfilePath(DefaultLabel)
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(path); err == nil {
		return path, errors.Join(os.ErrExist, activate(DefaultLabel))
	}

	if err := os.MkdirAll(ConfigsDir(), 0755); err != nil {
		return "", err
	}
	if err := SaveYAML(DefaultConfig(), path); err != nil {
		return "", err
	}
	return path, activate(DefaultLabel)
}
