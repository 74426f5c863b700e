package pool

import (
	"os"

	"github.com/brindlecore/reactor/asyncerr"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads and decodes a YAML-encoded Config from path, the
// on-disk shape operators edit to retune pool size/timeouts without a
// rebuild (spec §6 "Connection pool" config).
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, asyncerr.Wrap(asyncerr.KindFileIO, "read pool config", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, asyncerr.Wrap(asyncerr.KindUsage, "parse pool config", err)
	}
	return cfg, nil
}
