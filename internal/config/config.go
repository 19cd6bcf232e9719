// Package config provides the swapd daemon's layered configuration:
// built-in defaults, overridden by a YAML file, overridden by command-line
// flags, matching spec.md §6's recognized options and grounded in
// internal/node/config.go's yaml-plus-flag-override discipline.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CORSMode selects the http_api.cors.allowed_origins policy.
type CORSMode string

const (
	CORSAll  CORSMode = "all"
	CORSNone CORSMode = "none"
	CORSList CORSMode = "list"
)

// BitcoinNetwork is the closed set of Bitcoin networks this daemon speaks.
type BitcoinNetwork string

const (
	BitcoinMainnet BitcoinNetwork = "mainnet"
	BitcoinTestnet BitcoinNetwork = "testnet"
	BitcoinRegtest BitcoinNetwork = "regtest"
)

// Config is the complete, layered daemon configuration. Field names track
// spec.md §6's dotted option names via yaml tags, one nested struct per
// dotted prefix (network, http_api, data, logging, bitcoin, ethereum,
// lightning).
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	HTTPAPI  HTTPAPIConfig  `yaml:"http_api"`
	Data     DataConfig     `yaml:"data"`
	Logging  LoggingConfig  `yaml:"logging"`
	Bitcoin  BitcoinConfig  `yaml:"bitcoin"`
	Ethereum EthereumConfig `yaml:"ethereum"`
	Lightning *LightningConfig `yaml:"lightning,omitempty"`
}

// NetworkConfig holds network.* options: the libp2p listen multiaddresses
// this process advertises.
type NetworkConfig struct {
	Listen []string `yaml:"listen"`
}

// HTTPAPIConfig holds http_api.* options.
type HTTPAPIConfig struct {
	Socket string     `yaml:"socket"`
	CORS   CORSConfig `yaml:"cors"`
}

// CORSConfig holds http_api.cors.* options: Mode selects All/None/List;
// AllowedOrigins is populated only when Mode is CORSList.
type CORSConfig struct {
	Mode           CORSMode `yaml:"-"`
	AllowedOrigins []string `yaml:"-"`
}

// MarshalYAML renders allowed_origins as either the bare string "All"/
// "None" or an explicit origin list, matching spec.md §6's
// `All | None | list` option shape.
func (c CORSConfig) MarshalYAML() (interface{}, error) {
	switch c.Mode {
	case CORSAll, "":
		return map[string]interface{}{"allowed_origins": "All"}, nil
	case CORSNone:
		return map[string]interface{}{"allowed_origins": "None"}, nil
	default:
		return map[string]interface{}{"allowed_origins": c.AllowedOrigins}, nil
	}
}

func (c *CORSConfig) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw struct {
		AllowedOrigins interface{} `yaml:"allowed_origins"`
	}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.AllowedOrigins.(type) {
	case string:
		switch v {
		case "All", "all", "":
			c.Mode = CORSAll
		case "None", "none":
			c.Mode = CORSNone
		default:
			c.Mode = CORSList
			c.AllowedOrigins = []string{v}
		}
	case []interface{}:
		c.Mode = CORSList
		c.AllowedOrigins = make([]string, 0, len(v))
		for _, o := range v {
			if s, ok := o.(string); ok {
				c.AllowedOrigins = append(c.AllowedOrigins, s)
			}
		}
	default:
		c.Mode = CORSAll
	}
	return nil
}

// DataConfig holds data.* options.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

// LoggingConfig holds logging.* options.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// BitcoinBackendType selects which internal/backend.Backend implementation
// registerBitcoinCell constructs. jsonrpc (the default) talks directly to
// a Bitcoin Core style node at NodeURL; the others consume a public chain
// indexer API instead of a self-hosted node, for operators who don't run
// one.
type BitcoinBackendType string

const (
	BitcoinBackendJSONRPC   BitcoinBackendType = "jsonrpc"
	BitcoinBackendMempool   BitcoinBackendType = "mempool"
	BitcoinBackendEsplora   BitcoinBackendType = "esplora"
	BitcoinBackendElectrum  BitcoinBackendType = "electrum"
	BitcoinBackendBlockbook BitcoinBackendType = "blockbook"
)

// BitcoinConfig holds bitcoin.* options: the network this daemon watches
// and the backend it polls (spec.md §6's Blockchain RPC, consumed).
// NodeURL is the JSON-RPC node URL for BackendType jsonrpc, or the base
// API URL for mempool/esplora/blockbook; ElectrumServers is used instead
// when BackendType is electrum.
type BitcoinConfig struct {
	Network         BitcoinNetwork     `yaml:"network"`
	NodeURL         string             `yaml:"node_url"`
	BackendType     BitcoinBackendType `yaml:"backend_type,omitempty"`
	RPCUser         string             `yaml:"rpc_user,omitempty"`
	RPCPass         string             `yaml:"rpc_pass,omitempty"`
	ElectrumServers []string           `yaml:"electrum_servers,omitempty"`
	ElectrumTLS     bool               `yaml:"electrum_tls,omitempty"`
}

// EthereumConfig holds ethereum.* options.
type EthereumConfig struct {
	ChainID uint64 `yaml:"chain_id"`
	NodeURL string `yaml:"node_url"`
}

// LightningConfig holds the optional lightning.lnd.* options. A nil
// *LightningConfig on Config means Lightning support is disabled; no
// (Lightning, *) cell is registered in the ledger.Registry (internal/
// ledger's closed dispatch matrix), matching spec.md §9's note that
// Lightning is optional.
type LightningConfig struct {
	LND LNDConfig `yaml:"lnd"`
}

// LNDConfig holds lightning.lnd.* options.
type LNDConfig struct {
	RestAPISocket string `yaml:"rest_api_socket"`
	Dir           string `yaml:"dir"`
}

// Default returns a Config with sensible defaults, matching
// internal/node/config.go's DefaultConfig shape.
func Default() *Config {
	return &Config{
		Network: NetworkConfig{
			Listen: []string{
				"/ip4/0.0.0.0/tcp/4001",
				"/ip4/0.0.0.0/udp/4001/quic-v1",
			},
		},
		HTTPAPI: HTTPAPIConfig{
			Socket: "127.0.0.1:8080",
			CORS:   CORSConfig{Mode: CORSNone},
		},
		Data: DataConfig{
			Dir: "~/.swapd",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Bitcoin: BitcoinConfig{
			Network:     BitcoinMainnet,
			BackendType: BitcoinBackendJSONRPC,
		},
		Ethereum: EthereumConfig{
			ChainID: 1,
		},
	}
}

// FileName is the default config file name under Data.Dir.
const FileName = "config.yaml"

// Load reads a YAML config file layered over Default(); if path does not
// exist, the defaults are written there and returned, mirroring
// internal/node/config.go's LoadConfig first-run behavior.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("config: write default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("config: create directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	header := []byte("# swapd configuration\n# generated automatically on first run\n\n")
	if err := os.WriteFile(path, append(header, data...), 0600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ExpandPath expands a leading ~ to the user's home directory, matching
// internal/node/config.go's expandPath helper.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
