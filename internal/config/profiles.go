package config

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// DefaultProfile is applied when no profile is selected.
const DefaultProfile = "default"

//go:embed profiles/*.yaml
var profileFS embed.FS

// Profiles lists the built-in profile names.
func Profiles() []string {
	entries, err := profileFS.ReadDir("profiles")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// profileSettings reads a built-in profile through viper so it goes through
// the same key handling as a user config file.
func profileSettings(name string) (map[string]interface{}, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = DefaultProfile
	}
	data, err := profileFS.ReadFile("profiles/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown profile %q (available: %s)", name, strings.Join(Profiles(), ", "))
	}
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("profile %s: %w", name, err)
	}
	return v.AllSettings(), nil
}
