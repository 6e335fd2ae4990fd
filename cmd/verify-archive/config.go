package main

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	internalio "github.com/thenameisnigel/android-bootable-recovery/internal/ioutil"
	"github.com/thenameisnigel/android-bootable-recovery/sha1rsa"
)

// maxConfigBytes bounds how much of a trusted-keyset config file this
// command will read into memory.
const maxConfigBytes = 1 << 20

// Config is the on-disk trusted-keyset configuration: a list of PEM files,
// each holding one RSA-2048 public key the verifier will trust.
type Config struct {
	TrustedKeys []string `yaml:"trustedKeys"`
}

func loadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	raw, err := internalio.CappedRead(f, maxConfigBytes)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

func loadKeySet(cfg Config) (sha1rsa.KeySet, error) {
	keys := make(sha1rsa.KeySet, 0, len(cfg.TrustedKeys))
	for _, path := range cfg.TrustedKeys {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read key %s", path)
		}
		key, err := sha1rsa.ParsePublicKeyPEM(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parse key %s", path)
		}
		keys = append(keys, key)
	}
	return keys, nil
}
