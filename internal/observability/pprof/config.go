package pprof

import (
	"net"
	"runtime"
	"strings"
	"time"
)

const (
	DefaultAddr   = "127.0.0.1:6060"
	defaultPrefix = "/debug/pprof/"
)

// Config controls the debug HTTP server. A non-loopback Addr needs a Token
// unless AllowInsecure is set.
type Config struct {
	Enabled       bool
	Addr          string
	Prefix        string
	Token         string
	AllowInsecure bool

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// Zero leaves the runtime default untouched.
	MutexProfileFraction int
	BlockProfileRate     int
	MemProfileRate       int
}

func (c Config) addr() string {
	if a := strings.TrimSpace(c.Addr); a != "" {
		return a
	}
	return DefaultAddr
}

// listenerKey holds every setting baked into a running listener.
type listenerKey struct {
	addr, prefix, token   string
	insecure              bool
	read, write, idleTime time.Duration
}

func (c Config) key() listenerKey {
	return listenerKey{
		addr:     c.Addr,
		prefix:   normalizePrefix(c.Prefix),
		token:    c.Token,
		insecure: c.AllowInsecure,
		read:     c.ReadTimeout,
		write:    c.WriteTimeout,
		idleTime: c.IdleTimeout,
	}
}

func needsRestart(prev, next Config) bool { return prev.key() != next.key() }

func (c Config) applyRates() {
	if c.MutexProfileFraction > 0 {
		runtime.SetMutexProfileFraction(c.MutexProfileFraction)
	}
	if c.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(c.BlockProfileRate)
	}
	if c.MemProfileRate > 0 {
		runtime.MemProfileRate = c.MemProfileRate
	}
}

// normalizePrefix returns prefix with exactly one leading and trailing slash.
func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return defaultPrefix
	}
	return "/" + p + "/"
}

// IsLoopbackAddr reports whether a host:port address only listens on
// loopback. An empty host binds every interface and is not loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	switch host = strings.TrimSpace(host); {
	case host == "":
		return false
	case strings.EqualFold(host, "localhost"):
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
