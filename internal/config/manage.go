package config

import (
	"fmt"
	"strconv"
	"strings"
)

// KeyInfo is one row of the config listing. Secrets carry only whether
// their environment variable is set, never the value.
type KeyInfo struct {
	Key    string
	EnvVar string
	Value  string
	Secret bool
}

const (
	secretSet   = "(set)"
	secretUnset = "(unset)"
)

// ShowAll lists every key in cfg, file-backed keys first and env-only
// secrets after them.
func ShowAll(cfg Config) []KeyInfo {
	var plain, secrets []KeyInfo
	for _, s := range specs {
		v := s.extract(cfg)
		if !s.secret {
			plain = append(plain, KeyInfo{Key: s.key, EnvVar: s.env, Value: fmt.Sprint(v)})
			continue
		}
		masked := secretUnset
		if v != "" {
			masked = secretSet
		}
		secrets = append(secrets, KeyInfo{Key: s.key, EnvVar: s.env, Value: masked, Secret: true})
	}
	return append(plain, secrets...)
}

// SetKey persists key to the config file.
func SetKey(key, value string) error {
	return setKey(newFileBackend(configFilePath()), key, value)
}

func setKey(b ConfigBackend, key, value string) error {
	s, ok := lookupSpec(key)
	if !ok {
		return fmt.Errorf("unknown config key %q (settable: %s)", key, strings.Join(ValidKeys(), ", "))
	}
	if s.secret {
		return fmt.Errorf("%s is read from %s only and is never written to the config file", key, s.env)
	}
	if s.typ == kInt {
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s wants an integer: %w", key, err)
		}
		return b.SetInt(key, n)
	}
	return b.SetString(key, value)
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// ValidKeys returns the keys config set accepts.
func ValidKeys() []string {
	keys := make([]string, 0, len(specs))
	for _, s := range specs {
		if !s.secret {
			keys = append(keys, s.key)
		}
	}
	return keys
}
