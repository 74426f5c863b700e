package mysqlclient

import (
	"os"

	"github.com/brindlecore/reactor/asyncerr"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and decodes a YAML-encoded Config from path (spec §6
// "MySQL client" config). TLS is never populated this way (its yaml tag
// is "-"): callers that need TLS set it on the returned Config themselves.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, asyncerr.Wrap(asyncerr.KindFileIO, "read mysql config", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, asyncerr.Wrap(asyncerr.KindUsage, "parse mysql config", err)
	}
	return cfg, nil
}
