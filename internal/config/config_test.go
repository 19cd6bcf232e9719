package config

import (
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Bitcoin.Network != BitcoinMainnet {
		t.Errorf("expected mainnet default, got %s", cfg.Bitcoin.Network)
	}
	if cfg.HTTPAPI.CORS.Mode != CORSNone {
		t.Errorf("expected CORS none default, got %s", cfg.HTTPAPI.CORS.Mode)
	}
	if len(cfg.Network.Listen) == 0 {
		t.Error("expected at least one default listen address")
	}
	if cfg.Lightning != nil {
		t.Error("lightning support should be disabled by default")
	}
}

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, FileName)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Data.Dir != "~/.swapd" {
		t.Errorf("unexpected default data dir: %s", cfg.Data.Dir)
	}

	cfg2, err := Load(path)
	if err != nil {
		t.Fatalf("Load (second run): %v", err)
	}
	if cfg2.Bitcoin.Network != cfg.Bitcoin.Network {
		t.Errorf("round-trip mismatch: %s != %s", cfg2.Bitcoin.Network, cfg.Bitcoin.Network)
	}
}

func TestCORSRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		cfg  CORSConfig
	}{
		{"all", CORSConfig{Mode: CORSAll}},
		{"none", CORSConfig{Mode: CORSNone}},
		{"list", CORSConfig{Mode: CORSList, AllowedOrigins: []string{"https://example.com"}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, FileName)

			cfg := Default()
			cfg.HTTPAPI.CORS = tc.cfg
			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}

			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.HTTPAPI.CORS.Mode != tc.cfg.Mode {
				t.Errorf("mode: got %s, want %s", loaded.HTTPAPI.CORS.Mode, tc.cfg.Mode)
			}
			if tc.cfg.Mode == CORSList && len(loaded.HTTPAPI.CORS.AllowedOrigins) != 1 {
				t.Errorf("expected one allowed origin, got %v", loaded.HTTPAPI.CORS.AllowedOrigins)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	if got := ExpandPath("/abs/path"); got != "/abs/path" {
		t.Errorf("expected absolute path unchanged, got %s", got)
	}
}
