package settings

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Settings is the read-only configuration surface of the watcher.
// Values are addressed by "/"-delimited key paths into the YAML
// settings file, e.g. "paths/ibcmd_exec" or
// "receiver-parameters/opensearch/host".
type Settings struct {
	v *viper.Viper
}

// Load reads the settings file at path. A missing or unparsable file
// is an error; the caller is expected to treat it as fatal.
func Load(path string) (*Settings, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading settings %s: %w", path, err)
	}

	return &Settings{v: v}, nil
}

func (s *Settings) GetString(key string) string {
	return s.v.GetString(viperKey(key))
}

func (s *Settings) GetInt(key string) int {
	return s.v.GetInt(viperKey(key))
}

func (s *Settings) Get(key string) any {
	return s.v.Get(viperKey(key))
}

// IsSet reports whether the key path is present in the settings file.
func (s *Settings) IsSet(key string) bool {
	return s.v.IsSet(viperKey(key))
}

func viperKey(key string) string {
	return strings.ReplaceAll(key, "/", ".")
}
