package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

const (
	TransportHTTP  = "http"
	TransportRedis = "redis"
)

// PeerBook names the endpoints a client can address.
type PeerBook struct {
	Prefix           string       `toml:"prefix"`
	CompletionSignal string       `toml:"completion_signal"`
	Timeout          string       `toml:"timeout"`
	Self             SelfConfig   `toml:"self"`
	Peers            []PeerConfig `toml:"peers"`
}

// SelfConfig is how the client itself is reachable for replies.
type SelfConfig struct {
	Name      string `toml:"name"`
	Transport string `toml:"transport"`
	Listen    string `toml:"listen"`
	PublicURL string `toml:"public_url"`
	Redis     string `toml:"redis"`
	Namespace string `toml:"namespace"`
	Origin    string `toml:"origin"`
}

type PeerConfig struct {
	Name      string `toml:"name"`
	Transport string `toml:"transport"`
	URL       string `toml:"url"`
	Channel   string `toml:"channel"`
	Origin    string `toml:"origin"`
}

func LoadPeerBook(path string) (PeerBook, error) {
	var book PeerBook
	if err := loadToml(path, &book); err != nil {
		return PeerBook{}, err
	}
	if book.Prefix == "" {
		book.Prefix = "pigeon"
	}
	if book.Self.Name == "" {
		book.Self.Name = "pigeonctl"
	}
	if book.Self.Transport == "" {
		book.Self.Transport = TransportHTTP
	}
	if book.Self.Transport == TransportHTTP && book.Self.Listen == "" {
		book.Self.Listen = "127.0.0.1:9301"
	}
	for i := range book.Peers {
		if book.Peers[i].Transport == "" {
			book.Peers[i].Transport = TransportHTTP
		}
	}
	if err := ValidatePeerBook(book); err != nil {
		return PeerBook{}, err
	}
	return book, nil
}

// Peer returns the entry named name.
func (b PeerBook) Peer(name string) (PeerConfig, bool) {
	name = strings.TrimSpace(name)
	for _, p := range b.Peers {
		if p.Name == name {
			return p, true
		}
	}
	return PeerConfig{}, false
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidatePeerBook(book PeerBook) error {
	if strings.TrimSpace(book.Prefix) == "" {
		return fmt.Errorf("peer book missing prefix")
	}
	if err := ValidateSelf(book.Self); err != nil {
		return fmt.Errorf("self invalid: %w", err)
	}
	seen := make(map[string]struct{}, len(book.Peers))
	for i, peer := range book.Peers {
		if err := ValidatePeerEntry(peer); err != nil {
			return fmt.Errorf("peer[%d] invalid: %w", i, err)
		}
		if _, dup := seen[peer.Name]; dup {
			return fmt.Errorf("peer[%d] invalid: duplicate name %q", i, peer.Name)
		}
		seen[peer.Name] = struct{}{}
	}
	return nil
}

func ValidateSelf(cfg SelfConfig) error {
	switch cfg.Transport {
	case TransportHTTP:
		if strings.TrimSpace(cfg.Listen) == "" {
			return fmt.Errorf("listen is required for http")
		}
		if strings.HasPrefix(strings.TrimSpace(cfg.Listen), ":") &&
			strings.TrimSpace(cfg.PublicURL) == "" {
			return fmt.Errorf("public_url required when listen is a port")
		}
	case TransportRedis:
		if strings.TrimSpace(cfg.Redis) == "" {
			return fmt.Errorf("redis is required for redis")
		}
		if strings.TrimSpace(cfg.Name) == "" || strings.Contains(cfg.Name, ":") {
			return fmt.Errorf("name must be a channel name without ':'")
		}
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return nil
}

func ValidatePeerEntry(cfg PeerConfig) error {
	if strings.TrimSpace(cfg.Name) == "" {
		return fmt.Errorf("name is required")
	}
	switch cfg.Transport {
	case TransportHTTP:
		if strings.TrimSpace(cfg.URL) == "" {
			return fmt.Errorf("url is required for http")
		}
		if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
			return fmt.Errorf("url must be http(s): %s", cfg.URL)
		}
	case TransportRedis:
		if strings.TrimSpace(cfg.Channel) == "" {
			return fmt.Errorf("channel is required for redis")
		}
	default:
		return fmt.Errorf("unknown transport %q", cfg.Transport)
	}
	return nil
}
