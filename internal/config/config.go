package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPort         = 1099
	DefaultHistoryBytes = 1 << 20
)

// Config captures node runtime configuration.
type Config struct {
	Name       string
	Port       int
	Rendezvous string // host:port, bare host, multiaddr or "etcd://[name]"; empty runs as a rendezvous
	AdminAddr  string
	Advertise  string // host:port published in etcd when serving as a rendezvous

	EtcdCSV       string
	EtcdEndpoints []string

	LogLevel string
	Dev      bool

	HistoryBytes int
	HistoryTTL   time.Duration
	HistoryDB    string

	Wait   bool   // wait for an inbound connection instead of asking for a target
	Target string // peer to connect to; prompted when empty and Wait is false
}

// Flags returns a config whose defaults come from the environment.
func Flags() *Config {
	c := &Config{
		Name:         os.Getenv("NAME"),
		Port:         DefaultPort,
		AdminAddr:    os.Getenv("ADMIN_ADDR"),
		Advertise:    os.Getenv("SELF_ADDR"),
		EtcdCSV:      os.Getenv("ETCD_ENDPOINTS"),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		HistoryBytes: DefaultHistoryBytes,
		HistoryDB:    os.Getenv("HISTORY_DB"),
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			c.Port = p
		}
	}
	return c
}

// Bind registers the command-line flags on fs.
func (c *Config) Bind(fs *flag.FlagSet) {
	fs.StringVar(&c.Name, "name", c.Name, "Display name (env NAME; prompted when empty)")
	fs.IntVar(&c.Port, "port", c.Port, "UDP port to listen on (env PORT)")
	fs.StringVar(&c.Rendezvous, "rendezvous", c.Rendezvous, "Rendezvous to log in to: host:port, /ip4/.../udp/..., or etcd://[name] to look it up")
	fs.StringVar(&c.AdminAddr, "admin", c.AdminAddr, "Admin HTTP listen address, e.g. :8081 (env ADMIN_ADDR)")
	fs.StringVar(&c.Advertise, "advertise", c.Advertise, "host:port to publish in etcd as a rendezvous (env SELF_ADDR)")
	fs.StringVar(&c.EtcdCSV, "etcd", c.EtcdCSV, "Comma-separated etcd endpoints for rendezvous discovery (env ETCD_ENDPOINTS)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error (env LOG_LEVEL)")
	fs.BoolVar(&c.Dev, "dev", c.Dev, "Human-readable development logging")
	fs.IntVar(&c.HistoryBytes, "history-bytes", c.HistoryBytes, "In-memory chat history capacity in bytes")
	fs.DurationVar(&c.HistoryTTL, "history-ttl", c.HistoryTTL, "Drop in-memory chat lines older than this (0 keeps them)")
	fs.StringVar(&c.HistoryDB, "history-db", c.HistoryDB, "SQLite file to archive chat lines (env HISTORY_DB)")
	fs.BoolVar(&c.Wait, "wait", c.Wait, "Wait to be connected instead of choosing a peer")
	fs.StringVar(&c.Target, "to", c.Target, "Peer to chat with")
}

// ApplyArgs accepts the positional form "[port [host]]": the rendezvous
// port and host to log in to.
func (c *Config) ApplyArgs(args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 2 {
		return fmt.Errorf("too many arguments: %q", args)
	}
	port, err := strconv.Atoi(args[0])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("invalid rendezvous port %q", args[0])
	}
	host := "127.0.0.1"
	if len(args) == 2 && args[1] != "" {
		host = args[1]
	}
	c.Rendezvous = strings.TrimSpace(host) + ":" + strconv.Itoa(port)
	return nil
}

// Validate finalizes and validates the configuration.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.HistoryBytes < 0 {
		return errors.New("history-bytes must be >= 0")
	}
	if c.HistoryBytes == 0 {
		c.HistoryBytes = DefaultHistoryBytes
	}
	if c.HistoryTTL < 0 {
		return errors.New("history-ttl must be >= 0")
	}
	c.Name = strings.TrimSpace(c.Name)
	c.Target = strings.TrimSpace(c.Target)
	if c.Target != "" && c.Target == c.Name {
		return errors.New("cannot chat with yourself")
	}
	if c.Target != "" && c.Wait {
		return errors.New("-to and -wait are mutually exclusive")
	}

	if c.Advertise == "" {
		c.Advertise = "127.0.0.1:" + strconv.Itoa(c.Port)
	}

	c.EtcdEndpoints = nil
	if c.EtcdCSV != "" {
		for _, p := range strings.Split(c.EtcdCSV, ",") {
			if s := strings.TrimSpace(p); s != "" {
				c.EtcdEndpoints = append(c.EtcdEndpoints, s)
			}
		}
	}
	if _, ok := c.EtcdLookup(); ok && len(c.EtcdEndpoints) == 0 {
		return errors.New("rendezvous lookup through etcd needs -etcd endpoints")
	}
	return nil
}

// EtcdLookup reports whether the rendezvous should be found in etcd, and
// under which preferred name.
func (c *Config) EtcdLookup() (name string, ok bool) {
	name, ok = strings.CutPrefix(c.Rendezvous, "etcd://")
	if !ok {
		return "", false
	}
	return name, true
}

// ListenAddr is the UDP bind address.
func (c *Config) ListenAddr() string {
	return ":" + strconv.Itoa(c.Port)
}

// IsClient reports whether the node logs in somewhere rather than only
// serving as a rendezvous.
func (c *Config) IsClient() bool {
	return c.Rendezvous != ""
}
