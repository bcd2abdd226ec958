package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	mu sync.RWMutex
	v  = newViper()
)

func newViper() *viper.Viper {
	vp := viper.New()
	vp.AutomaticEnv()
	return vp
}

// Load merges a YAML/JSON/TOML config file under the environment. Environment
// variables keep precedence over file values.
func Load(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	vp := newViper()
	vp.SetConfigFile(path)
	if err := vp.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	mu.Lock()
	v = vp
	mu.Unlock()
	return nil
}

func lookup(key string) string {
	mu.RLock()
	defer mu.RUnlock()
	return strings.TrimSpace(v.GetString(key))
}

func String(key, fallback string) string {
	if s := lookup(key); s != "" {
		return s
	}
	return fallback
}

func RequiredString(key string) (string, error) {
	s := lookup(key)
	if s == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return s, nil
}

func Port(key, fallback string) (string, error) {
	s := String(key, fallback)
	p, err := strconv.Atoi(s)
	if err != nil || p < 1 || p > 65535 {
		return "", fmt.Errorf("%s must be a valid TCP port (got %q)", key, s)
	}
	return s, nil
}

// Int returns fallback when the key is unset, unparseable or below min.
func Int(key string, fallback, min int) int {
	s := lookup(key)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min {
		return fallback
	}
	return n
}

func Bool(key string, fallback bool) bool {
	switch strings.ToLower(lookup(key)) {
	case "":
		return fallback
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// Duration accepts Go duration strings ("30s") or a bare integer number of seconds.
func Duration(key string, fallback time.Duration) time.Duration {
	s := lookup(key)
	if s == "" {
		return fallback
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return fallback
}

func List(key, fallback string) []string {
	raw := String(key, fallback)
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
