package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"contract":{"address":"0x00000000000000000000000000000000000000aa","abi_path":"abi/registry.json"},"web3":{"chain_config":"chain.yaml","default_chain":"local"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	base := filepath.Dir(path)

	if cfg.Server.Address != ":8080" {
		t.Fatalf("unexpected address %s", cfg.Server.Address)
	}
	if cfg.Wallet.Provider != WalletProviderKeyed {
		t.Fatalf("unexpected provider %s", cfg.Wallet.Provider)
	}
	if cfg.Contract.ABIPath != filepath.Join(base, "abi/registry.json") {
		t.Fatalf("abi path not resolved: %s", cfg.Contract.ABIPath)
	}
	if cfg.Web3.ChainConfig != filepath.Join(base, "chain.yaml") {
		t.Fatalf("chain config not resolved: %s", cfg.Web3.ChainConfig)
	}
	if cfg.Contract.Chain != "local" {
		t.Fatalf("contract chain should follow default chain, got %s", cfg.Contract.Chain)
	}
	if cfg.Contract.ConfirmTimeout() != 2*time.Minute || cfg.Contract.PollInterval() != time.Second {
		t.Fatalf("unexpected contract timings %v %v", cfg.Contract.ConfirmTimeout(), cfg.Contract.PollInterval())
	}
	if cfg.Roles.CheckOperation != "isRegistered" || cfg.Roles.RegisterOperation != "register" {
		t.Fatalf("unexpected role operations %+v", cfg.Roles)
	}
	if cfg.Storage.Journal.Driver != "memory" || cfg.Storage.Snapshot.Driver != "memory" || cfg.Notify.Driver != "none" {
		t.Fatalf("unexpected drivers %+v %+v", cfg.Storage, cfg.Notify)
	}
	if cfg.Runtime.DataDir != filepath.Join(base, "data") {
		t.Fatalf("unexpected data dir %s", cfg.Runtime.DataDir)
	}
}

func TestLoadRejectsUnknownDrivers(t *testing.T) {
	cases := map[string]string{
		"wallet":   `{"wallet":{"provider":"browser"}}`,
		"rpc":      `{"wallet":{"provider":"rpc"}}`,
		"journal":  `{"storage":{"journal":{"driver":"sqlite"}}}`,
		"snapshot": `{"storage":{"snapshot":{"driver":"etcd"}}}`,
		"notify":   `{"notify":{"driver":"kafka"}}`,
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, content)); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	if PathFromEnv() != DefaultPath {
		t.Fatalf("expected default path, got %s", PathFromEnv())
	}
	t.Setenv(EnvConfigPath, "/etc/bridge.json")
	if PathFromEnv() != "/etc/bridge.json" {
		t.Fatalf("unexpected path %s", PathFromEnv())
	}
}

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("BRIDGE_TEST_TOKEN", "s3cret")
	t.Setenv("BRIDGE_TEST_REDIS", "hunter2")
	cfg, err := Load(writeConfig(t, `{"server":{"api_token_env":"BRIDGE_TEST_TOKEN"},"storage":{"snapshot":{"driver":"redis","redis":{"address":"127.0.0.1:6379","password_env":"BRIDGE_TEST_REDIS"}}}}`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.APIToken != "s3cret" {
		t.Fatalf("unexpected token %q", cfg.Server.APIToken)
	}
	if cfg.Storage.Snapshot.Redis.Password() != "hunter2" {
		t.Fatalf("unexpected redis password")
	}
}
