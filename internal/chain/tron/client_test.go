package tron

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/circuitbreaker"
)

const usdtMainnet = "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t"

type testKey struct {
	hex  string
	addr Address
}

func newTestKey(t *testing.T) testKey {
	t.Helper()
	k, err := crypto.GenerateKey()
	require.NoError(t, err)
	var a Address
	copy(a[:], crypto.PubkeyToAddress(k.PublicKey).Bytes())
	return testKey{hex: hex.EncodeToString(crypto.FromECDSA(k)), addr: a}
}

func newTestClient(t *testing.T, nodes ...string) *Client {
	t.Helper()
	c, err := New(Config{Nodes: nodes, USDTContract: usdtMainnet, Timeout: 2 * time.Second}, nil,
		WithBreaker(circuitbreaker.New(1, time.Minute)))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func uint256Hex(v int64) string {
	return hex.EncodeToString(common32(big.NewInt(v)))
}

func common32(v *big.Int) []byte {
	out := make([]byte, 32)
	v.FillBytes(out)
	return out
}

// unsignedTx returns a node-style transaction whose txID hashes raw_data_hex.
func unsignedTx(rawHex string) map[string]any {
	raw, _ := hex.DecodeString(rawHex)
	sum := sha256.Sum256(raw)
	return map[string]any{
		"txID":         hex.EncodeToString(sum[:]),
		"raw_data":     map[string]any{"expiration": 1},
		"raw_data_hex": rawHex,
	}
}

func TestAddress_Codec(t *testing.T) {
	a, err := ParseAddress(usdtMainnet)
	require.NoError(t, err)
	assert.Equal(t, "41a614f803b6fd780986a42c78ec9c7f77e6ded13c", a.Hex())
	assert.Equal(t, usdtMainnet, a.String())

	b, err := ParseHexAddress("41a614f803b6fd780986a42c78ec9c7f77e6ded13c")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	assert.False(t, IsValidAddress(""))
	assert.False(t, IsValidAddress("0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"))
	assert.False(t, IsValidAddress(usdtMainnet[:len(usdtMainnet)-1]+"u"))

	k := newTestKey(t)
	addr, err := AddressFromKey("0x" + k.hex)
	require.NoError(t, err)
	assert.Equal(t, k.addr.String(), addr)
	assert.True(t, IsValidAddress(addr))

	_, err = AddressFromKey("nothex")
	assert.ErrorIs(t, err, ErrInvalidPrivateKey)
}

func TestClient_GetBalance(t *testing.T) {
	k := newTestKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/getaccount", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, k.addr.String(), req["address"])
		writeJSON(w, map[string]any{"balance": 12_500_000})
	})
	mux.HandleFunc("/wallet/triggerconstantcontract", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "balanceOf(address)", req["function_selector"])
		assert.Len(t, req["parameter"], 64)
		writeJSON(w, map[string]any{
			"result":          map[string]any{"result": true},
			"constant_result": []string{uint256Hex(5_000_000)},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	bal, err := c.GetBalance(context.Background(), k.addr.String())
	require.NoError(t, err)
	assert.True(t, bal.Coin.Equal(decimal.RequireFromString("12.5")), bal.Coin.String())
	assert.True(t, bal.Token.Equal(decimal.NewFromInt(5)), bal.Token.String())

	holds, err := c.AddressHoldsToken(context.Background(), k.addr.String())
	require.NoError(t, err)
	assert.True(t, holds)
}

func TestClient_GetResources(t *testing.T) {
	k := newTestKey(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/getaccountresource", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"freeNetLimit": 600, "freeNetUsed": 100,
			"NetLimit": 1000, "NetUsed": 1200,
			"EnergyLimit": 90_000, "EnergyUsed": 20_000,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	res, err := newTestClient(t, srv.URL).GetResources(context.Background(), k.addr.String())
	require.NoError(t, err)
	assert.Equal(t, chain.Resources{
		EnergyAvailable:    70_000,
		EnergyLimit:        90_000,
		BandwidthAvailable: 500,
		BandwidthLimit:     1600,
	}, res)
}

func TestClient_SubmitTransferTRX(t *testing.T) {
	from := newTestKey(t)
	to := newTestKey(t)
	tx := unsignedTx("0a02abcd2208deadbeef")

	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/createtransaction", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, from.addr.String(), req["owner_address"])
		assert.Equal(t, to.addr.String(), req["to_address"])
		assert.EqualValues(t, 10_000_000, req["amount"])
		writeJSON(w, tx)
	})
	mux.HandleFunc("/wallet/broadcasttransaction", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TxID      string   `json:"txID"`
			Signature []string `json:"signature"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		require.Len(t, req.Signature, 1)

		sig, _ := hex.DecodeString(req.Signature[0])
		hash, _ := hex.DecodeString(req.TxID)
		pub, err := crypto.SigToPub(hash, sig)
		require.NoError(t, err)
		assert.Equal(t, from.addr.EVM(), crypto.PubkeyToAddress(*pub))

		writeJSON(w, map[string]any{"result": true, "txid": req.TxID})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	ref, err := c.SubmitTransfer(context.Background(),
		chain.Credential{Address: from.addr.String(), PrivateKey: from.hex},
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, tx["txID"], ref)
}

func TestClient_SubmitTransferUSDT(t *testing.T) {
	from := newTestKey(t)
	to := newTestKey(t)
	tx := unsignedTx("0a02beef")

	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/triggersmartcontract", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "transfer(address,uint256)", req["function_selector"])
		assert.Equal(t, usdtMainnet, req["contract_address"])

		param := req["parameter"].(string)
		require.Len(t, param, 128)
		assert.Equal(t, hex.EncodeToString(common32(new(big.Int).SetBytes(to.addr[:]))), param[:64])
		assert.Equal(t, uint256Hex(2_500_000), param[64:])

		writeJSON(w, map[string]any{"result": map[string]any{"result": true}, "transaction": tx})
	})
	mux.HandleFunc("/wallet/broadcasttransaction", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"code": "DUP_TRANSACTION_ERROR"})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ref, err := newTestClient(t, srv.URL).SubmitTransfer(context.Background(),
		chain.Credential{PrivateKey: from.hex},
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetUSDT, Amount: decimal.RequireFromString("2.5")})
	require.NoError(t, err, "a duplicate broadcast means the node already has it")
	assert.Equal(t, tx["txID"], ref)
}

func TestClient_SubmitTransferClassification(t *testing.T) {
	from := newTestKey(t)
	to := newTestKey(t)

	tests := []struct {
		name      string
		broadcast http.HandlerFunc
		wantKind  chain.Kind
		wantRef   bool
	}{
		{
			name: "insufficient balance",
			broadcast: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{
					"code":    "CONTRACT_VALIDATE_ERROR",
					"message": hex.EncodeToString([]byte("Validate TransferContract error, balance is not sufficient.")),
				})
			},
			wantKind: chain.KindInsufficientBalance,
		},
		{
			name: "bandwidth",
			broadcast: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"code": "BANDWITH_ERROR", "message": "6e6f"})
			},
			wantKind: chain.KindEnergyUnavailable,
		},
		{
			name: "node busy",
			broadcast: func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, map[string]any{"code": "SERVER_BUSY"})
			},
			wantKind: chain.KindNodeUnreachable,
		},
		{
			name: "lost response",
			broadcast: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantKind: chain.KindAmbiguousSubmission,
			wantRef:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := unsignedTx("0a0211")
			mux := http.NewServeMux()
			mux.HandleFunc("/wallet/createtransaction", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tx) })
			mux.HandleFunc("/wallet/broadcasttransaction", tt.broadcast)
			srv := httptest.NewServer(mux)
			defer srv.Close()

			ref, err := newTestClient(t, srv.URL).SubmitTransfer(context.Background(),
				chain.Credential{PrivateKey: from.hex},
				chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(1)})
			require.Error(t, err)
			assert.Empty(t, ref)
			assert.Equal(t, tt.wantKind, chain.KindOf(err))
			if tt.wantRef {
				assert.Equal(t, tx["txID"], chain.TxRefOf(err))
			}
		})
	}
}

func TestClient_SubmitTransferValidation(t *testing.T) {
	from := newTestKey(t)
	c := newTestClient(t, "http://127.0.0.1:1")
	ctx := context.Background()

	_, err := c.SubmitTransfer(ctx, chain.Credential{PrivateKey: from.hex},
		chain.TransferRequest{To: "not-an-address", Asset: chain.AssetTRX, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, chain.KindInvalidDestination, chain.KindOf(err))

	_, err = c.SubmitTransfer(ctx, chain.Credential{PrivateKey: from.hex},
		chain.TransferRequest{To: from.addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, chain.KindInvalidDestination, chain.KindOf(err))

	_, err = c.SubmitTransfer(ctx, chain.Credential{Address: usdtMainnet, PrivateKey: from.hex},
		chain.TransferRequest{To: newTestKey(t).addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, chain.KindRejected, chain.KindOf(err))
}

func TestClient_RejectsTamperedTxID(t *testing.T) {
	from := newTestKey(t)
	to := newTestKey(t)
	tx := unsignedTx("0a0211")
	tx["raw_data_hex"] = "0a0299"

	var broadcasts atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/wallet/createtransaction", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tx) })
	mux.HandleFunc("/wallet/broadcasttransaction", func(w http.ResponseWriter, r *http.Request) {
		broadcasts.Add(1)
		writeJSON(w, map[string]any{"result": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).SubmitTransfer(context.Background(),
		chain.Credential{PrivateKey: from.hex},
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(1)})
	assert.Equal(t, chain.KindRejected, chain.KindOf(err))
	assert.Zero(t, broadcasts.Load())
}

func TestClient_FailsOverToNextNode(t *testing.T) {
	var deadHits atomic.Int32
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadHits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer dead.Close()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"blockID": "0000abc"})
	}))
	defer good.Close()

	c := newTestClient(t, dead.URL, good.URL)
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, circuitbreaker.StateOpen, c.Breaker().State(dead.URL))

	// The open breaker keeps later calls off the dead node.
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, int32(1), deadHits.Load())
}

func TestClient_AllNodesDown(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer dead.Close()

	c := newTestClient(t, dead.URL)
	err := c.Ping(context.Background())
	assert.Equal(t, chain.KindNodeUnreachable, chain.KindOf(err))

	err = c.Ping(context.Background())
	assert.Equal(t, chain.KindNodeUnreachable, chain.KindOf(err))
	assert.Contains(t, err.Error(), "circuit-open")
}

func TestClient_GetTransactionStatus(t *testing.T) {
	tests := []struct {
		name    string
		info    map[string]any
		byID    map[string]any
		pending map[string]any
		status  chain.TxStatus
	}{
		{"confirmed token transfer", map[string]any{"id": "t1", "blockNumber": 10, "receipt": map[string]any{"result": "SUCCESS"}}, nil, nil, chain.TxConfirmed},
		{"confirmed native transfer", map[string]any{"id": "t1", "blockNumber": 10}, nil, nil, chain.TxConfirmed},
		{"out of energy", map[string]any{"id": "t1", "result": "FAILED", "receipt": map[string]any{"result": "OUT_OF_ENERGY"}}, nil, nil, chain.TxFailed},
		{"pending", map[string]any{}, map[string]any{"txID": "t1"}, nil, chain.TxPending},
		{"in pending pool", map[string]any{}, map[string]any{}, map[string]any{"txID": "t1"}, chain.TxPending},
		{"unknown", map[string]any{}, map[string]any{}, map[string]any{}, chain.TxUnknown},
		{"pending pool unsupported", map[string]any{}, map[string]any{}, nil, chain.TxUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/wallet/gettransactioninfobyid", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tt.info) })
			mux.HandleFunc("/wallet/gettransactionbyid", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tt.byID) })
			if tt.pending != nil {
				mux.HandleFunc("/wallet/gettransactionfrompending", func(w http.ResponseWriter, r *http.Request) { writeJSON(w, tt.pending) })
			}
			srv := httptest.NewServer(mux)
			defer srv.Close()

			got, err := newTestClient(t, srv.URL).GetTransactionStatus(context.Background(), "t1")
			require.NoError(t, err)
			assert.Equal(t, tt.status, got)
		})
	}
}

func TestClient_FindTransfer(t *testing.T) {
	from := newTestKey(t)
	to := newTestKey(t)
	since := time.Now().Add(-time.Hour)

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/accounts/"+from.addr.String()+"/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("only_from"))
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{
				"txID": "other",
				"ret":  []any{map[string]any{"contractRet": "SUCCESS"}},
				"raw_data": map[string]any{"contract": []any{map[string]any{
					"type":      "TransferContract",
					"parameter": map[string]any{"value": map[string]any{"amount": 999, "to_address": to.addr.Hex()}},
				}}},
			},
			map[string]any{
				"txID": "match",
				"ret":  []any{map[string]any{"contractRet": "SUCCESS"}},
				"raw_data": map[string]any{"contract": []any{map[string]any{
					"type":      "TransferContract",
					"parameter": map[string]any{"value": map[string]any{"amount": 3_000_000, "to_address": to.addr.Hex()}},
				}}},
			},
		}})
	})
	mux.HandleFunc("/v1/accounts/"+from.addr.String()+"/transactions/trc20", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, usdtMainnet, r.URL.Query().Get("contract_address"))
		writeJSON(w, map[string]any{"data": []any{
			map[string]any{"transaction_id": "tok", "to": to.addr.String(), "value": "7000000"},
		}})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	ref, status, err := c.FindTransfer(ctx, from.addr.String(),
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetTRX, Amount: decimal.NewFromInt(3)}, since)
	require.NoError(t, err)
	assert.Equal(t, "match", ref)
	assert.Equal(t, chain.TxConfirmed, status)

	ref, status, err = c.FindTransfer(ctx, from.addr.String(),
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetUSDT, Amount: decimal.NewFromInt(7)}, since)
	require.NoError(t, err)
	assert.Equal(t, "tok", ref)
	assert.Equal(t, chain.TxConfirmed, status)

	ref, status, err = c.FindTransfer(ctx, from.addr.String(),
		chain.TransferRequest{To: to.addr.String(), Asset: chain.AssetUSDT, Amount: decimal.NewFromInt(8)}, since)
	require.NoError(t, err)
	assert.Empty(t, ref)
	assert.Equal(t, chain.TxUnknown, status)
}
