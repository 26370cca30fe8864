package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
)

// Hand-assembled runtime code used by the simulated chain tests.
const (
	// returns uint256(42) for any call
	answerRuntime = "602a60005260206000f3"
	// reverts with empty data for any call
	revertRuntime = "60006000fd"
	// emits LOG1 with a fixed topic and no data
	rawLogRuntime = "7f0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f2060006000a100"
	rawLogTopic   = "0x0102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f20"
)

type testChain struct {
	sim    *simulated.Backend
	client *Client
	key    *ecdsa.PrivateKey
	from   common.Address
}

func newTestChain(t *testing.T) *testChain {
	t.Helper()

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	from := crypto.PubkeyToAddress(key.PublicKey)
	balance := new(big.Int).Mul(big.NewInt(1_000), big.NewInt(1_000_000_000_000_000_000))
	sim := simulated.NewBackend(coretypes.GenesisAlloc{from: {Balance: balance}})
	t.Cleanup(func() { _ = sim.Close() })

	return &testChain{
		sim:    sim,
		client: NewSimulatedClient("simulated", sim),
		key:    key,
		from:   from,
	}
}

// deploy wraps runtime in a minimal constructor that copies it into place.
func (c *testChain) deploy(t *testing.T, runtime []byte) common.Address {
	t.Helper()
	if len(runtime) > 0xff {
		t.Fatalf("runtime too large: %d", len(runtime))
	}
	size := byte(len(runtime))
	initCode := append([]byte{0x60, size, 0x60, 0x0c, 0x60, 0x00, 0x39, 0x60, size, 0x60, 0x00, 0xf3}, runtime...)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	backend := c.client.Backend()
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		t.Fatalf("chain id: %v", err)
	}
	nonce, err := backend.PendingNonceAt(ctx, c.from)
	if err != nil {
		t.Fatalf("pending nonce: %v", err)
	}
	tx := coretypes.NewTx(&coretypes.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: big.NewInt(1_000_000_000),
		GasFeeCap: big.NewInt(100_000_000_000),
		Gas:       500_000,
		Data:      initCode,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		t.Fatalf("sign deploy: %v", err)
	}
	if err := backend.SendTransaction(ctx, signed); err != nil {
		t.Fatalf("send deploy: %v", err)
	}
	c.sim.Commit()

	receipt, err := backend.TransactionReceipt(ctx, signed.Hash())
	if err != nil {
		t.Fatalf("deploy receipt: %v", err)
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		t.Fatalf("deploy failed with status %d", receipt.Status)
	}
	return receipt.ContractAddress
}

type keySigner struct {
	key *ecdsa.PrivateKey
}

func (s keySigner) SignTransaction(_ context.Context, _ common.Address, tx *coretypes.Transaction, chainID *big.Int) (*coretypes.Transaction, error) {
	return coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), s.key)
}

type failingSigner struct {
	err error
}

func (s failingSigner) SignTransaction(context.Context, common.Address, *coretypes.Transaction, *big.Int) (*coretypes.Transaction, error) {
	return nil, s.err
}

func TestFetchChainSnapshotAdvancesWithBlocks(t *testing.T) {
	chain := newTestChain(t)
	ctx := context.Background()

	before, err := chain.client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if before.ChainID != "0x539" {
		t.Fatalf("unexpected chain id %s", before.ChainID)
	}

	chain.deploy(t, common.FromHex(answerRuntime))

	after, err := chain.client.FetchChainSnapshot(ctx)
	if err != nil {
		t.Fatalf("fetch snapshot: %v", err)
	}
	if after.BlockNumber == before.BlockNumber {
		t.Fatalf("expected block number to advance, still %s", after.BlockNumber)
	}
	if after.Name != "simulated" {
		t.Fatalf("unexpected name %s", after.Name)
	}
}

func TestClosedClientRefusesEndpoints(t *testing.T) {
	chain := newTestChain(t)
	chain.client.Close()

	if _, err := chain.client.Endpoint(common.HexToAddress("0x1"), `[]`); err == nil {
		t.Fatal("expected error from closed client")
	}
	if _, err := chain.client.FetchChainSnapshot(context.Background()); err == nil {
		t.Fatal("expected snapshot error from closed client")
	}
}

func TestNewClientRequiresRPCURL(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{Name: "empty"}); err == nil {
		t.Fatal("expected error for missing rpc url")
	}
}

func TestReceiptNotFoundBeforeCommit(t *testing.T) {
	chain := newTestChain(t)
	_, err := chain.client.Backend().TransactionReceipt(context.Background(), common.HexToHash("0xdead"))
	if !errors.Is(err, gethcore.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
