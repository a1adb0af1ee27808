package config

import (
	"flag"
	"testing"
	"time"
)

func parse(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	c := Flags()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	c.Bind(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := c.ApplyArgs(fs.Args()); err != nil {
		return c, err
	}
	return c, c.Validate()
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("PORT", "2000")
	t.Setenv("NAME", "alice")
	t.Setenv("ETCD_ENDPOINTS", "http://e1:2379, http://e2:2379,")
	t.Setenv("SELF_ADDR", "")

	c, err := parse(t)
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 2000 || c.Name != "alice" {
		t.Fatalf("got port=%d name=%q", c.Port, c.Name)
	}
	if len(c.EtcdEndpoints) != 2 || c.EtcdEndpoints[1] != "http://e2:2379" {
		t.Fatalf("EtcdEndpoints = %q", c.EtcdEndpoints)
	}
	if c.LogLevel != "info" || c.HistoryBytes != DefaultHistoryBytes {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Advertise != "127.0.0.1:2000" {
		t.Fatalf("Advertise = %q", c.Advertise)
	}
	if c.IsClient() {
		t.Fatal("no rendezvous given, should not be a client")
	}
}

func TestFlagsOverrideEnv(t *testing.T) {
	t.Setenv("PORT", "2000")
	c, err := parse(t, "-port", "3000", "-history-ttl", "1m")
	if err != nil {
		t.Fatal(err)
	}
	if c.Port != 3000 || c.HistoryTTL != time.Minute {
		t.Fatalf("got port=%d ttl=%s", c.Port, c.HistoryTTL)
	}
	if c.ListenAddr() != ":3000" {
		t.Fatalf("ListenAddr = %q", c.ListenAddr())
	}
}

func TestPositionalArgs(t *testing.T) {
	t.Setenv("PORT", "")
	c, err := parse(t, "1099")
	if err != nil {
		t.Fatal(err)
	}
	if c.Rendezvous != "127.0.0.1:1099" || !c.IsClient() {
		t.Fatalf("Rendezvous = %q", c.Rendezvous)
	}

	c, err = parse(t, "1099", "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if c.Rendezvous != "10.0.0.5:1099" {
		t.Fatalf("Rendezvous = %q", c.Rendezvous)
	}
}

func TestInvalid(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ETCD_ENDPOINTS", "")
	cases := map[string][]string{
		"bad positional port":    {"abc"},
		"port zero":              {"0"},
		"too many args":          {"1", "h", "x"},
		"port range":             {"-port", "70000"},
		"negative history":       {"-history-bytes", "-1"},
		"negative ttl":           {"-history-ttl", "-1s"},
		"self target":            {"-name", "a", "-to", "a"},
		"to and wait":            {"-to", "b", "-wait"},
		"etcd without endpoints": {"-rendezvous", "etcd://"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := parse(t, args...); err == nil {
				t.Fatalf("parse(%q) succeeded", args)
			}
		})
	}
}

func TestEtcdLookup(t *testing.T) {
	cases := []struct {
		in   string
		name string
		ok   bool
	}{
		{"etcd://", "", true},
		{"etcd://r1", "r1", true},
		{"etcd:1099", "", false},
		{"10.0.0.1:1099", "", false},
		{"", "", false},
	}
	for _, c := range cases {
		cfg := &Config{Rendezvous: c.in}
		name, ok := cfg.EtcdLookup()
		if name != c.name || ok != c.ok {
			t.Errorf("EtcdLookup(%q) = %q,%v want %q,%v", c.in, name, ok, c.name, c.ok)
		}
	}
}
