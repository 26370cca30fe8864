package main

import (
	"context"
	"testing"

	"DappBridge/internal/config"
	"DappBridge/internal/notify"
	"DappBridge/internal/role"
	"DappBridge/internal/storage/mysql"
	"DappBridge/internal/wallet"
)

func TestMemoryBackendsAreDefault(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{}
	cfg.Runtime.DataDir = t.TempDir()
	cfg.Wallet.Provider = config.WalletProviderNone

	journal, err := buildJournal(ctx, cfg)
	if err != nil {
		t.Fatalf("buildJournal: %v", err)
	}
	defer journal.Close()
	if _, ok := journal.(*mysql.MemoryCallJournal); !ok {
		t.Fatalf("expected memory journal, got %T", journal)
	}

	stores, err := buildStores(ctx, cfg)
	if err != nil {
		t.Fatalf("buildStores: %v", err)
	}
	if _, ok := stores.snapshots.(*wallet.MemorySnapshotStore); !ok {
		t.Fatalf("expected memory snapshot store, got %T", stores.snapshots)
	}
	if _, ok := stores.roles.(*role.MemoryCache); !ok {
		t.Fatalf("expected memory role cache, got %T", stores.roles)
	}
	if err := stores.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	publisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		t.Fatalf("buildPublisher: %v", err)
	}
	if _, ok := publisher.(notify.Discard); !ok {
		t.Fatalf("expected discard publisher, got %T", publisher)
	}

	p, closeProvider, err := buildProvider(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("buildProvider: %v", err)
	}
	defer closeProvider()
	if p != nil {
		t.Fatalf("expected no provider, got %T", p)
	}

	endpoint, err := buildEndpoint(cfg, nil)
	if err != nil {
		t.Fatalf("buildEndpoint: %v", err)
	}
	if endpoint != nil {
		t.Fatalf("expected no endpoint, got %T", endpoint)
	}
}

func TestMemoryPublisherIsDrained(t *testing.T) {
	cfg := &config.Config{}
	cfg.Notify.Driver = "memory"
	publisher, err := buildPublisher(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildPublisher: %v", err)
	}
	for i := 0; i < 200; i++ {
		if err := publisher.Publish(context.Background(), notify.Message{Type: notify.TypeSessionChanged, SessionID: "s"}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := publisher.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestUnknownWalletProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Wallet.Provider = "browser"
	if _, _, err := buildProvider(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
}
