package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/swaperr"
)

// runApp runs the CLI with args and returns what it wrote to stdout.
func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	app := newApp()
	var out bytes.Buffer
	app.Writer = &out
	app.ErrWriter = io.Discard
	err := app.Run(append([]string{"swapper", "--env-file", filepath.Join(t.TempDir(), "absent.env")}, args...))
	return out.String(), err
}

// setTestEnv isolates the command from the host environment.
func setTestEnv(t *testing.T, backendURL string) {
	t.Helper()
	for k, v := range map[string]string{
		"BACKEND_URL":        backendURL,
		"LOG_LEVEL":          "error",
		"STATE_DIR":          t.TempDir(),
		"WALLET_SECRET_KEY":  "",
		"ATTESTATION_TOKEN":  "attestation-1",
		"DEVICE_ID":          "",
		"ASSET_CATALOG_PATH": "",
		"SOLANA_RPC_URL":     "",
		"REFRESH_BLOCKHASH":  "false",
		"POLL_INTERVAL":      "1ms",
		"POLL_MAX_ATTEMPTS":  "3",
		"HTTP_MAX_RETRIES":   "0",
		"DATABASE_URL":       "",
		"NATS_URL":           "",
		"TEMPORAL_HOST":      "",
	} {
		t.Setenv(k, v)
	}
}

func newWallet(t *testing.T) solana.PrivateKey {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return pk
}

// fakeBackend serves the swap API for one wallet. Status requests report
// the transaction as finalized unless status is set.
type fakeBackend struct {
	t      *testing.T
	payer  solana.PublicKey
	status *client.SwapStatus

	tokenCalls atomic.Int32

	mu         sync.Mutex
	submitted  []byte
	statusHash string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req client.TokenRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, "attestation-1", req.AttestationToken)
		assert.NotEmpty(f.t, req.DeviceID)
		f.tokenCalls.Add(1)
		writeJSON(w, client.TokenResponse{Token: "tok-1", ExpiresIn: 3600})
	})
	mux.HandleFunc("POST /api/v1/swap/prepare", func(w http.ResponseWriter, r *http.Request) {
		f.requireBearer(r)
		var req client.PrepareSwapRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(f.t, f.payer.String(), req.WalletAddress)
		writeJSON(w, client.PrepareSwapResponse{UnsignedTransaction: f.unsigned()})
	})
	mux.HandleFunc("POST /api/v1/swap/submit", func(w http.ResponseWriter, r *http.Request) {
		f.requireBearer(r)
		var req client.SubmitSwapRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		raw, err := base64.StdEncoding.DecodeString(req.SignedTransaction)
		require.NoError(f.t, err)
		f.mu.Lock()
		f.submitted = raw
		f.mu.Unlock()
		writeJSON(w, client.SubmitSwapResponse{TradeID: "trade-1"})
	})
	mux.HandleFunc("GET /api/v1/swap/status/{hash}", func(w http.ResponseWriter, r *http.Request) {
		f.requireBearer(r)
		f.mu.Lock()
		f.statusHash = r.PathValue("hash")
		f.mu.Unlock()
		if f.status != nil {
			writeJSON(w, f.status)
			return
		}
		writeJSON(w, client.SwapStatus{Status: "finalized", Confirmations: 32, Finalized: true})
	})
	return mux
}

func (f *fakeBackend) requireBearer(r *http.Request) {
	assert.Equal(f.t, "Bearer tok-1", r.Header.Get("Authorization"))
}

// unsigned is a one-signer legacy transfer paid by the wallet, with an empty
// signature slot.
func (f *fakeBackend) unsigned() string {
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(100_000, f.payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{4, 5, 6},
		solana.TransactionPayer(f.payer),
	)
	require.NoError(f.t, err)
	msg, err := tx.Message.MarshalBinary()
	require.NoError(f.t, err)
	raw := append([]byte{1}, make([]byte, 64)...)
	return base64.StdEncoding.EncodeToString(append(raw, msg...))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestSwapCommand_EndToEnd(t *testing.T) {
	wallet := newWallet(t)
	backend := &fakeBackend{t: t, payer: wallet.PublicKey()}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	setTestEnv(t, server.URL)
	t.Setenv("WALLET_SECRET_KEY", base58.Encode(wallet))

	out, err := runApp(t, "--json", "swap", "SOL", "USDC", "0.5")
	require.NoError(t, err)

	var res struct {
		Quote struct {
			InputAmountRaw  uint64 `json:"input_amount_raw"`
			EstimatedOutput string `json:"estimated_output"`
		} `json:"quote"`
		Trade struct {
			ID              string `json:"id"`
			TransactionHash string `json:"transaction_hash"`
			Status          string `json:"status"`
			Finalized       bool   `json:"finalized"`
		} `json:"trade"`
		StillPending bool `json:"still_pending"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)

	assert.Equal(t, uint64(500_000_000), res.Quote.InputAmountRaw)
	assert.Equal(t, "49.750000", res.Quote.EstimatedOutput)
	assert.Equal(t, "trade-1", res.Trade.ID)
	assert.True(t, res.Trade.Finalized)
	assert.False(t, res.StillPending)

	backend.mu.Lock()
	submitted := backend.submitted
	statusHash := backend.statusHash
	backend.mu.Unlock()

	// The backend saw a transaction signed by the wallet, and the CLI polled
	// the status of that signature.
	require.Greater(t, len(submitted), 65)
	sig := solana.SignatureFromBytes(submitted[1:65])
	assert.True(t, sig.Verify(wallet.PublicKey(), submitted[65:]))
	assert.Equal(t, sig.String(), res.Trade.TransactionHash)
	assert.Equal(t, sig.String(), statusHash)
	assert.Equal(t, int32(1), backend.tokenCalls.Load())
}

func TestSwapCommand_FailedTradeExitsWithUserMessage(t *testing.T) {
	wallet := newWallet(t)
	reason := "Transfer: insufficient lamports 10, need 2039280"
	backend := &fakeBackend{
		t:      t,
		payer:  wallet.PublicKey(),
		status: &client.SwapStatus{Status: "failed", Error: &reason},
	}
	server := httptest.NewServer(backend.handler())
	defer server.Close()

	setTestEnv(t, server.URL)
	t.Setenv("WALLET_SECRET_KEY", base58.Encode(wallet))

	out, err := runApp(t, "swap", "SOL", "USDC", "0.5")
	require.Error(t, err)
	assert.ErrorIs(t, err, swaperr.ErrInsufficientFunds)
	assert.Contains(t, out, "Swap failed")
	assert.Equal(t, 1, exitCode(err))
	assert.Contains(t, describeError(err), "Insufficient funds")
}

func TestSwapCommand_RequiresWalletKey(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")

	_, err := runApp(t, "swap", "SOL", "USDC", "1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WALLET_SECRET_KEY")
}

func TestQuoteCommand_Local(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")

	out, err := runApp(t, "--jq", ".estimated_output", "quote", "sol", "USDC", "1")
	require.NoError(t, err)
	assert.Equal(t, "99.500000\n", out)

	out, err = runApp(t, "--jq", ".input_amount_raw", "quote", "--raw", "SOL", "USDC", "1500")
	require.NoError(t, err)
	assert.Equal(t, "1500\n", out)
}

func TestQuoteCommand_Errors(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")

	_, err := runApp(t, "quote", "SOL", "DOGE", "1")
	assert.ErrorIs(t, err, swaperr.ErrAssetNotFound)

	_, err = runApp(t, "quote", "SOL", "USDC", "0")
	assert.ErrorIs(t, err, swaperr.ErrInvalidAmount)

	_, err = runApp(t, "quote", "SOL", "USDC")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FROM TO AMOUNT")
}

func TestAuthCommands(t *testing.T) {
	wallet := newWallet(t)
	backend := &fakeBackend{t: t, payer: wallet.PublicKey()}
	server := httptest.NewServer(backend.handler())
	defer server.Close()
	setTestEnv(t, server.URL)

	out, err := runApp(t, "--jq", ".token", "auth", "token")
	require.NoError(t, err)
	assert.Equal(t, "********\n", out)

	// The token persisted in STATE_DIR is reused by the next process.
	out, err = runApp(t, "--jq", ".token", "auth", "token", "--reveal")
	require.NoError(t, err)
	assert.Equal(t, "tok-1\n", out)
	assert.Equal(t, int32(1), backend.tokenCalls.Load())

	_, err = runApp(t, "auth", "clear")
	require.NoError(t, err)

	_, err = runApp(t, "auth", "token")
	require.NoError(t, err)
	assert.Equal(t, int32(2), backend.tokenCalls.Load())
}

func TestAuthToken_NoAttestation(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")
	t.Setenv("ATTESTATION_TOKEN", "")

	_, err := runApp(t, "auth", "token")
	require.Error(t, err)
	assert.ErrorIs(t, err, swaperr.ErrAttestationUnavailable)
	assert.Equal(t, swaperr.CategoryAuth, swaperr.Classify(err))
}

func TestStatusCommand(t *testing.T) {
	wallet := newWallet(t)
	backend := &fakeBackend{t: t, payer: wallet.PublicKey()}
	server := httptest.NewServer(backend.handler())
	defer server.Close()
	setTestEnv(t, server.URL)

	out, err := runApp(t, "status", "5hash")
	require.NoError(t, err)
	assert.Contains(t, out, "finalized")
	assert.Contains(t, out, "32")

	backend.mu.Lock()
	defer backend.mu.Unlock()
	assert.Equal(t, "5hash", backend.statusHash)
}

func TestTradesList_RequiresDatabase(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")

	_, err := runApp(t, "trades", "list", "SomeWallet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestKeyCommands(t *testing.T) {
	wallet := newWallet(t)
	t.Setenv("WALLET_SECRET_KEY", base58.Encode(wallet))

	out, err := runApp(t, "key", "address")
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey().String()+"\n", out)

	out, err = runApp(t, "key", "convert", "--to", "base64")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(wallet)+"\n", out)

	// Round trip through a key file in the other format.
	path := filepath.Join(t.TempDir(), "wallet.key")
	require.NoError(t, writeFile(path, strings.TrimSpace(out)))
	out, err = runApp(t, "--jq", ".address", "key", "convert", "--key-file", path)
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey().String()+"\n", out)

	t.Setenv("WALLET_SECRET_KEY", "not-a-key")
	_, err = runApp(t, "key", "address")
	assert.ErrorIs(t, err, swaperr.ErrInvalidKeyFormat)

	_, err = runApp(t, "key", "convert", "--to", "hex")
	require.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	version = "1.0.0"
	commit = "abc123"
	date = "2026-01-01"

	out, err := runApp(t, "--jq", ".version", "version")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0\n", out)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(swaperr.ErrPollTimeout))
	assert.Equal(t, 1, exitCode(swaperr.ErrNetwork))
	assert.Contains(t, describeError(swaperr.ErrInsufficientFunds), "Insufficient funds")
}

func TestTradesWatch_RequiresTemporal(t *testing.T) {
	setTestEnv(t, "http://127.0.0.1:1")

	_, err := runApp(t, "trades", "watch", "5hash")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEMPORAL_HOST")

	_, err = runApp(t, "trades", "follow", "SomeWallet")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NATS_URL")
}
