package main

import (
	"testing"

	"citanft/internal/config"
	"citanft/internal/wallet"
)

func TestBuildBackends(t *testing.T) {
	cfg := &config.AppConfig{
		Chain: config.ChainConfig{RPCURL: "http://127.0.0.1:8545"},
		Wallet: config.WalletConfig{
			Backends:     []string{"rpc", "privatekey", "keystore", "clef"},
			PrivateKey:   "0x01",
			KeystoreDir:  "/tmp/keys",
			ClefEndpoint: "/tmp/clef.ipc",
		},
	}

	backends, err := buildBackends(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	want := []string{wallet.BackendRPC, wallet.BackendPrivateKey, wallet.BackendKeystore, wallet.BackendClef}
	if len(backends) != len(want) {
		t.Fatalf("expected %d backends, got %d", len(want), len(backends))
	}
	for i, b := range backends {
		if b.Name() != want[i] {
			t.Fatalf("backend %d: expected %s, got %s", i, want[i], b.Name())
		}
	}
	if ks, ok := backends[2].(wallet.KeystoreBackend); !ok || ks.Dir != "/tmp/keys" {
		t.Fatalf("unexpected keystore backend %#v", backends[2])
	}

	cfg.Wallet.Backends = []string{"walletconnect"}
	if _, err := buildBackends(cfg); err == nil {
		t.Fatal("expected unknown backend to fail")
	}
}
