package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "pigeond":
		return daemonTemplate, nil
	case "peers":
		return peersTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const daemonTemplate = `name = "pigeond"
prefix = "pigeon"
completion_signal = "acknowledged"
transport = "http"
listen = "127.0.0.1:9300"
public_url = "http://127.0.0.1:9300"
cors_origins = []
trusted_domain = ""

# redis transport
redis = "redis://127.0.0.1:6379/0"
namespace = "pigeon"
origin = "redis://pigeond"
`

const peersTemplate = `prefix = "pigeon"
completion_signal = "acknowledged"
timeout = "5s"

[self]
name = "pigeonctl"
transport = "http"
listen = "127.0.0.1:9301"
public_url = "http://127.0.0.1:9301"

[[peers]]
name = "local"
transport = "http"
url = "http://127.0.0.1:9300"

[[peers]]
name = "bus"
transport = "redis"
channel = "pigeond"
origin = "redis://pigeond"
`
