package blaster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/cryptondee/megaeth/internal/config"
	"github.com/cryptondee/megaeth/internal/rpc"
	"github.com/cryptondee/megaeth/pkg/types"
)

// Anvil's well-known dev keys; safe to embed in tests.
const (
	devKey0  = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	devAddr0 = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
	devKey1  = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	devAddr1 = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"

	testTarget  = "0x000000000000000000000000000000000000dEaD"
	testChainID = uint64(6342)
)

type nonceResp struct {
	nonce uint64
	err   error
}

// mockClient is a scripted rpc.Client. Broadcasts are decoded so outcomes
// and recorded nonces can be attributed to the sending wallet; queued
// responses are consumed in order, and an exhausted queue falls back to the
// plain maps.
type mockClient struct {
	mu sync.Mutex

	chainID    uint64
	chainIDErr error

	nonces     map[string]uint64
	nonceQueue map[string][]nonceResp
	confirmed  map[string]uint64
	balances   map[string]*big.Int

	sendQueue map[string][]error
	panicOn   map[string]bool

	sentNonces map[string][]uint64
	nonceCalls map[string]int
}

var _ rpc.Client = (*mockClient)(nil)

func newMockClient(chainID uint64) *mockClient {
	return &mockClient{
		chainID:    chainID,
		nonces:     make(map[string]uint64),
		nonceQueue: make(map[string][]nonceResp),
		confirmed:  make(map[string]uint64),
		balances:   make(map[string]*big.Int),
		sendQueue:  make(map[string][]error),
		panicOn:    make(map[string]bool),
		sentNonces: make(map[string][]uint64),
		nonceCalls: make(map[string]int),
	}
}

func (m *mockClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, errors.New("not scripted")
}

func (m *mockClient) SendRawTransaction(ctx context.Context, txRLP []byte) (string, error) {
	var tx ethtypes.Transaction
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return "", fmt.Errorf("decode: %w", err)
	}
	signer := ethtypes.LatestSignerForChainID(new(big.Int).SetUint64(m.chainID))
	from, err := ethtypes.Sender(signer, &tx)
	if err != nil {
		return "", fmt.Errorf("recover sender: %w", err)
	}
	addr := from.Hex()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.panicOn[addr] {
		panic("scripted panic")
	}
	m.sentNonces[addr] = append(m.sentNonces[addr], tx.Nonce())
	if q := m.sendQueue[addr]; len(q) > 0 {
		outcome := q[0]
		m.sendQueue[addr] = q[1:]
		if outcome != nil {
			return "", outcome
		}
	}
	return tx.Hash().Hex(), nil
}

func (m *mockClient) GetNonce(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonceCalls[address]++
	if q := m.nonceQueue[address]; len(q) > 0 {
		r := q[0]
		m.nonceQueue[address] = q[1:]
		return r.nonce, r.err
	}
	return m.nonces[address], nil
}

func (m *mockClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmed[address], nil
}

func (m *mockClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[address]; ok {
		return new(big.Int).Set(bal), nil
	}
	// Plenty by default so the balance preflight stays quiet.
	return new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18)), nil
}

func (m *mockClient) GetChainID(ctx context.Context) (uint64, error) {
	return m.chainID, m.chainIDErr
}

func (m *mockClient) GetBlockNumber(ctx context.Context) (uint64, error) {
	return 0, nil
}

func (m *mockClient) sentFor(addr string) []uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint64, len(m.sentNonces[addr]))
	copy(out, m.sentNonces[addr])
	return out
}

func (m *mockClient) nonceCallsFor(addr string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonceCalls[addr]
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(keys string) *config.Config {
	cfg := config.Default()
	cfg.Keys = keys
	cfg.Target = testTarget
	cfg.Total = 10
	cfg.SendDelay = 0
	cfg.CongestionBackoff = time.Millisecond
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, client rpc.Client) *Engine {
	t.Helper()
	eng, err := New(cfg, client, nil, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func TestEngineRun(t *testing.T) {
	client := newMockClient(testChainID)
	client.nonces[devAddr0] = 3
	client.nonces[devAddr1] = 7

	cfg := testConfig(devKey0 + "," + devKey1)
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if sum.Status != types.StatusCompleted {
		t.Errorf("status = %q, want %q", sum.Status, types.StatusCompleted)
	}
	if sum.TxSent != 10 || sum.TxFailed != 0 {
		t.Errorf("sent/failed = %d/%d, want 10/0", sum.TxSent, sum.TxFailed)
	}
	if sum.WalletsLoaded != 2 || sum.WalletsSkipped != 0 || sum.WalletsExcluded != 0 || sum.WalletsPlanned != 2 {
		t.Errorf("wallet counts = %d/%d/%d/%d, want 2/0/0/2",
			sum.WalletsLoaded, sum.WalletsSkipped, sum.WalletsExcluded, sum.WalletsPlanned)
	}
	if len(sum.Results) != 2 {
		t.Fatalf("results = %d entries, want 2", len(sum.Results))
	}

	first := sum.Results[0]
	if first.ID != 0 || first.Quota != 5 || first.Sent != 5 || first.Failed != 0 {
		t.Errorf("wallet 0 result = %+v", first)
	}
	if first.FinalNonce != 8 {
		t.Errorf("wallet 0 final nonce = %d, want 8", first.FinalNonce)
	}
	second := sum.Results[1]
	if second.Quota != 5 || second.Sent != 5 || second.FinalNonce != 12 {
		t.Errorf("wallet 1 result = %+v", second)
	}

	wantNonces := []uint64{3, 4, 5, 6, 7}
	got := client.sentFor(devAddr0)
	if len(got) != len(wantNonces) {
		t.Fatalf("wallet 0 sent %d txs, want %d", len(got), len(wantNonces))
	}
	for i, n := range wantNonces {
		if got[i] != n {
			t.Errorf("wallet 0 send %d used nonce %d, want %d", i, got[i], n)
		}
	}

	// A clean run touches eth_getTransactionCount once per wallet, during
	// nonce initialization.
	if calls := client.nonceCallsFor(devAddr0); calls != 1 {
		t.Errorf("wallet 0 nonce fetches = %d, want 1", calls)
	}

	if sum.Latency == nil {
		t.Fatal("latency stats missing")
	}
	if sum.Latency.Count != 10 {
		t.Errorf("latency count = %d, want 10", sum.Latency.Count)
	}
	if sum.SendTPS <= 0 {
		t.Errorf("send TPS = %f, want > 0", sum.SendTPS)
	}
	if sum.IncompleteLoops != 0 {
		t.Errorf("incomplete loops = %d, want 0", sum.IncompleteLoops)
	}
}

func TestEngineChainIDMismatch(t *testing.T) {
	client := newMockClient(1) // node says mainnet, config says otherwise
	cfg := testConfig(devKey0)
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err == nil {
		t.Fatal("expected chain id mismatch error")
	}
	if sum != nil {
		t.Errorf("summary = %+v, want nil", sum)
	}
	if sent := client.sentFor(devAddr0); len(sent) != 0 {
		t.Errorf("sent %d txs despite mismatch", len(sent))
	}
}

func TestEngineChainIDFetchError(t *testing.T) {
	client := newMockClient(testChainID)
	client.chainIDErr = errors.New("connection refused")
	eng := newTestEngine(t, testConfig(devKey0), client)

	if _, err := eng.Run(context.Background()); err == nil {
		t.Fatal("expected error when chain id fetch fails")
	}
}

func TestEngineTotalExclusionMalformedKeys(t *testing.T) {
	client := newMockClient(testChainID)
	cfg := testConfig("nothex,alsobad")
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if !errors.Is(err, ErrNoWallets) {
		t.Fatalf("err = %v, want ErrNoWallets", err)
	}
	if sum == nil {
		t.Fatal("summary missing on total exclusion")
	}
	if sum.Status != types.StatusError {
		t.Errorf("status = %q, want %q", sum.Status, types.StatusError)
	}
	if sum.TxSent != 0 || sum.WalletsLoaded != 0 || sum.WalletsSkipped != 2 {
		t.Errorf("summary = loaded %d skipped %d sent %d, want 0/2/0",
			sum.WalletsLoaded, sum.WalletsSkipped, sum.TxSent)
	}
}

func TestEngineTotalExclusionNonceFailures(t *testing.T) {
	client := newMockClient(testChainID)
	client.nonceQueue[devAddr0] = []nonceResp{{err: errors.New("timeout")}}

	eng := newTestEngine(t, testConfig(devKey0), client)

	sum, err := eng.Run(context.Background())
	if !errors.Is(err, ErrNoWallets) {
		t.Fatalf("err = %v, want ErrNoWallets", err)
	}
	if sum.WalletsLoaded != 1 || sum.WalletsExcluded != 1 {
		t.Errorf("loaded/excluded = %d/%d, want 1/1", sum.WalletsLoaded, sum.WalletsExcluded)
	}
}

func TestEngineZeroTotal(t *testing.T) {
	client := newMockClient(testChainID)
	cfg := testConfig(devKey0)
	cfg.Total = 0
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Status != types.StatusCompleted {
		t.Errorf("status = %q, want %q", sum.Status, types.StatusCompleted)
	}
	if sum.TxSent != 0 || sum.WalletsPlanned != 0 || len(sum.Results) != 0 {
		t.Errorf("zero-total run sent %d txs across %d wallets", sum.TxSent, sum.WalletsPlanned)
	}
}

func TestEngineSettlement(t *testing.T) {
	client := newMockClient(testChainID)
	client.nonces[devAddr0] = 0
	client.confirmed[devAddr0] = 3 // one tx still pending at check time

	cfg := testConfig(devKey0)
	cfg.Total = 4
	cfg.SettleWait = time.Millisecond
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sum.Results) != 1 {
		t.Fatalf("results = %d entries, want 1", len(sum.Results))
	}
	res := sum.Results[0]
	if res.Sent != 4 {
		t.Errorf("sent = %d, want 4", res.Sent)
	}
	if res.Confirmed == nil {
		t.Fatal("settlement delta missing")
	}
	if *res.Confirmed != 3 {
		t.Errorf("confirmed = %d, want 3", *res.Confirmed)
	}
}

func TestEnginePanicIsolation(t *testing.T) {
	client := newMockClient(testChainID)
	client.panicOn[devAddr0] = true

	cfg := testConfig(devKey0 + "," + devKey1)
	cfg.Total = 4
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.IncompleteLoops != 1 {
		t.Errorf("incomplete loops = %d, want 1", sum.IncompleteLoops)
	}

	crashed := sum.Results[0]
	if crashed.Err == "" {
		t.Error("crashed wallet should carry an error")
	}
	healthy := sum.Results[1]
	if healthy.Err != "" || healthy.Sent != 2 {
		t.Errorf("healthy wallet result = %+v, want 2 sent with no error", healthy)
	}
	if sum.TxSent != 2 {
		t.Errorf("total sent = %d, want 2", sum.TxSent)
	}
}

func TestEngineUnderfundedWalletStillRuns(t *testing.T) {
	client := newMockClient(testChainID)
	client.balances[devAddr0] = big.NewInt(1) // far below worst-case cost

	cfg := testConfig(devKey0)
	cfg.Total = 3
	eng := newTestEngine(t, cfg, client)

	sum, err := eng.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.TxSent != 3 {
		t.Errorf("sent = %d, want 3; balance preflight must stay advisory", sum.TxSent)
	}
}

func TestEnginePrepare(t *testing.T) {
	client := newMockClient(testChainID)
	client.nonces[devAddr0] = 11
	client.nonces[devAddr1] = 22

	cfg := testConfig(devKey0 + "," + devKey1)
	cfg.Total = 7
	eng := newTestEngine(t, cfg, client)

	prep, err := eng.Prepare(context.Background())
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if prep.Loaded != 2 || prep.Skipped != 0 || prep.Excluded != 0 {
		t.Errorf("counters = %d/%d/%d, want 2/0/0", prep.Loaded, prep.Skipped, prep.Excluded)
	}
	if len(prep.Plan.Entries) != 2 {
		t.Fatalf("plan entries = %d, want 2", len(prep.Plan.Entries))
	}
	if q0, q1 := prep.Plan.Entries[0].Quota, prep.Plan.Entries[1].Quota; q0 != 4 || q1 != 3 {
		t.Errorf("quotas = %d/%d, want 4/3", q0, q1)
	}
	if sn := prep.Plan.Entries[0].StartNonce; sn != 11 {
		t.Errorf("start nonce = %d, want 11", sn)
	}
}

func TestEngineNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Keys = devKey0 // no target
	if _, err := New(cfg, newMockClient(testChainID), nil, testLogger()); err == nil {
		t.Fatal("expected config validation error")
	}
}

func TestEngineEstimatedCost(t *testing.T) {
	cfg := testConfig(devKey0)
	cfg.GasLimit = 120000
	cfg.GasFeeCapWei = 2_000_000_000
	cfg.ValueWei = 0
	eng := newTestEngine(t, cfg, newMockClient(testChainID))

	want := new(big.Int).Mul(big.NewInt(10), big.NewInt(240_000_000_000_000))
	if got := eng.EstimatedCost(10); got.Cmp(want) != 0 {
		t.Errorf("EstimatedCost(10) = %s, want %s", got, want)
	}
}
