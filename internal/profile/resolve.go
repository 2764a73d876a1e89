package profile

import (
	"fmt"
	"regexp"

	"github.com/matheus3301/helpchat/internal/config"
)

var nameRegexp = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// ValidateName checks that name is usable as a directory name.
func ValidateName(name string) error {
	if !nameRegexp.MatchString(name) {
		return fmt.Errorf("invalid profile name %q: must match ^[a-z0-9_-]{1,64}$", name)
	}
	return nil
}

// Resolve picks the active profile: the --profile flag, then
// config.toml default_profile, then "default".
func Resolve(flagOverride string) string {
	cfg, err := config.LoadOrDefault(ConfigPath())
	if err != nil {
		cfg = &config.Config{}
	}
	return cfg.ProfileName(flagOverride)
}
