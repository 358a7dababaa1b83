package swap

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brojonat/swapper/client"
	"github.com/brojonat/swapper/service/db"
	"github.com/brojonat/swapper/service/keys"
	"github.com/brojonat/swapper/service/nats"
	"github.com/brojonat/swapper/service/quote"
	"github.com/brojonat/swapper/service/swaperr"
	"github.com/brojonat/swapper/service/tracker"
	"github.com/brojonat/swapper/service/txcodec"
)

type fakePreparer struct {
	unsigned string
	err      error
	calls    int
	last     client.PrepareSwapRequest
}

func (f *fakePreparer) PrepareSwap(ctx context.Context, req client.PrepareSwapRequest) (*client.PrepareSwapResponse, error) {
	f.calls++
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return &client.PrepareSwapResponse{UnsignedTransaction: f.unsigned}, nil
}

type failingQuoter struct{ err error }

func (f failingQuoter) Quote(ctx context.Context, req quote.Request) (*quote.Quote, error) {
	return nil, f.err
}

type fakeTracker struct {
	submitted []tracker.SubmitRequest
	submitErr error

	trackRec   *tracker.TradeRecord
	trackErr   error
	trackCalls int
}

func (f *fakeTracker) Submit(ctx context.Context, req tracker.SubmitRequest) (*tracker.TradeRecord, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, req)
	return &tracker.TradeRecord{
		ID:              "trade-1",
		TransactionHash: req.Signed.ID(),
		Status:          tracker.StatusPending,
		UpdatedAt:       time.Now(),
	}, nil
}

func (f *fakeTracker) Track(ctx context.Context, hash string, maxAttempts int, interval time.Duration) (*tracker.TradeRecord, error) {
	f.trackCalls++
	if f.trackRec != nil {
		rec := *f.trackRec
		rec.TransactionHash = hash
		return &rec, f.trackErr
	}
	return nil, f.trackErr
}

type fakeLedger struct {
	created []db.CreateTradeParams
	updated []db.UpdateTradeStatusParams
	err     error
}

func (f *fakeLedger) CreateTrade(ctx context.Context, p db.CreateTradeParams) (*db.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.created = append(f.created, p)
	return &db.Trade{
		TransactionHash: p.TransactionHash,
		TradeID:         p.TradeID,
		WalletAddress:   p.WalletAddress,
		FromAsset:       p.FromAsset,
		ToAsset:         p.ToAsset,
		AmountRaw:       p.AmountRaw,
		Format:          p.Format,
		Status:          p.Status,
	}, nil
}

func (f *fakeLedger) UpdateTradeStatus(ctx context.Context, p db.UpdateTradeStatusParams) (*db.Trade, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.updated = append(f.updated, p)
	return &db.Trade{
		TransactionHash: p.TransactionHash,
		Status:          p.Status,
		Confirmations:   p.Confirmations,
		Finalized:       p.Finalized,
		Error:           p.Error,
	}, nil
}

type fakeWatcher struct {
	hash, wallet string
	err          error
}

func (f *fakeWatcher) WatchTrade(ctx context.Context, hash, wallet string) error {
	f.hash, f.wallet = hash, wallet
	return f.err
}

func newKey(t *testing.T) keys.WalletKey {
	t.Helper()
	pk, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	k, err := keys.FromBytes(pk)
	require.NoError(t, err)
	return k
}

// unsignedTransfer builds the base64 wire form of a one-signer legacy
// transaction with an empty signature slot.
func unsignedTransfer(t *testing.T, payer solana.PublicKey) (string, []byte) {
	t.Helper()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(100_000, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{1, 2, 3},
		solana.TransactionPayer(payer),
	)
	require.NoError(t, err)
	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)

	raw := append([]byte{1}, make([]byte, 64)...)
	raw = append(raw, msg...)
	return base64.StdEncoding.EncodeToString(raw), msg
}

type harness struct {
	svc       *Service
	preparer  *fakePreparer
	tracker   *fakeTracker
	ledger    *fakeLedger
	publisher *nats.MockPublisher
	watcher   *fakeWatcher
	key       keys.WalletKey
	message   []byte
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	key := newKey(t)
	unsigned, msg := unsignedTransfer(t, key.Address)

	h := &harness{
		preparer:  &fakePreparer{unsigned: unsigned},
		tracker:   &fakeTracker{},
		ledger:    &fakeLedger{},
		publisher: nats.NewMockPublisher(),
		watcher:   &fakeWatcher{},
		key:       key,
		message:   msg,
	}
	cfg := Config{
		Quoter:          quote.NewEngine(quote.EngineConfig{Catalog: quote.DefaultCatalog()}),
		Preparer:        h.preparer,
		Signer:          txcodec.NewCodec(nil, nil, nil),
		Tracker:         h.tracker,
		Ledger:          h.ledger,
		Publisher:       h.publisher,
		Watcher:         h.watcher,
		PollMaxAttempts: 3,
		PollInterval:    time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc, err := New(cfg)
	require.NoError(t, err)
	h.svc = svc
	return h
}

var solToUSDC = Request{From: "SOL", To: "usdc", AmountRaw: 100_000, SlippageBps: 50}

func TestExecute_SubmitsSignedTransaction(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.svc.Execute(context.Background(), solToUSDC, h.key)
	require.NoError(t, err)

	assert.Equal(t, "0.009950", res.Quote.EstimatedOutput)
	assert.Equal(t, "USDC", h.preparer.last.ToAsset)
	assert.Equal(t, h.key.Address.String(), h.preparer.last.WalletAddress)
	assert.Equal(t, 50, h.preparer.last.SlippageBps)

	require.Len(t, h.tracker.submitted, 1)
	signed := h.tracker.submitted[0].Signed
	assert.Equal(t, txcodec.FormatLegacy, signed.Format)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(h.key.Address[:]), h.message, signed.Signature[:]))

	assert.Equal(t, signed.ID(), res.Trade.TransactionHash)
	assert.False(t, res.StillPending)
	assert.Zero(t, h.tracker.trackCalls)

	require.Len(t, h.ledger.created, 1)
	assert.Equal(t, "legacy", h.ledger.created[0].Format)
	assert.EqualValues(t, 100_000, h.ledger.created[0].AmountRaw)
	assert.Equal(t, []nats.EventKind{nats.KindSubmitted}, h.publisher.GetPublishedKinds())
}

func TestExecute_TracksToFinality(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.trackRec = &tracker.TradeRecord{Status: tracker.StatusFinalized, Finalized: true, Confirmations: 32}

	req := solToUSDC
	req.Track = true
	res, err := h.svc.Execute(context.Background(), req, h.key)
	require.NoError(t, err)

	assert.Equal(t, tracker.StatusFinalized, res.Trade.Status)
	assert.Equal(t, "trade-1", res.Trade.ID)
	assert.False(t, res.StillPending)

	require.Len(t, h.ledger.updated, 1)
	assert.True(t, h.ledger.updated[0].Finalized)
	assert.Equal(t, []nats.EventKind{nats.KindSubmitted, nats.KindFinalized}, h.publisher.GetPublishedKinds())
	assert.Empty(t, h.watcher.hash)
}

func TestExecute_FailedTradeReturnsClassifiedError(t *testing.T) {
	cases := []struct {
		name     string
		chainErr string
		want     error
		category swaperr.Category
	}{
		{
			name:     "insufficient lamports",
			chainErr: "Transfer: insufficient lamports 10, need 2039280",
			want:     swaperr.ErrInsufficientFunds,
			category: swaperr.CategoryInsufficientFunds,
		},
		{
			name:     "program error",
			chainErr: "custom program error: 0x1771",
			want:     swaperr.ErrSimulationFailed,
			category: swaperr.CategorySimulation,
		},
		{
			name:     "no reason given",
			want:     swaperr.ErrSimulationFailed,
			category: swaperr.CategorySimulation,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.tracker.trackRec = &tracker.TradeRecord{Status: tracker.StatusFailed, Error: tc.chainErr}

			req := solToUSDC
			req.Track = true
			res, err := h.svc.Execute(context.Background(), req, h.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, tc.category, swaperr.Classify(err))
			assert.NotEmpty(t, swaperr.UserMessage(err))

			require.NotNil(t, res)
			assert.Equal(t, tracker.StatusFailed, res.Trade.Status)
			assert.False(t, res.StillPending)

			require.Len(t, h.ledger.updated, 1)
			assert.Equal(t, "failed", h.ledger.updated[0].Status)
			assert.Equal(t, []nats.EventKind{nats.KindSubmitted, nats.KindFailed}, h.publisher.GetPublishedKinds())
			assert.Empty(t, h.watcher.hash)
		})
	}
}

func TestExecute_PollTimeoutIsStillPending(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.trackRec = &tracker.TradeRecord{Status: tracker.StatusConfirmed, Confirmations: 4}
	h.tracker.trackErr = fmt.Errorf("%w: gave up", swaperr.ErrPollTimeout)

	req := solToUSDC
	req.Track = true
	res, err := h.svc.Execute(context.Background(), req, h.key)
	require.Error(t, err)
	assert.ErrorIs(t, err, swaperr.ErrPollTimeout)
	assert.Equal(t, swaperr.CategoryPending, swaperr.Classify(err))

	require.NotNil(t, res)
	assert.True(t, res.StillPending)
	assert.Equal(t, tracker.StatusConfirmed, res.Trade.Status)
	assert.Equal(t, res.Trade.TransactionHash, h.watcher.hash)
	assert.Equal(t, h.key.Address.String(), h.watcher.wallet)
	assert.Equal(t, []nats.EventKind{nats.KindSubmitted, nats.KindPendingTimeout}, h.publisher.GetPublishedKinds())
}

func TestExecute_PollTimeoutWithoutAnySuccessfulPoll(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Watcher = nil })
	h.tracker.trackErr = swaperr.ErrPollTimeout

	req := solToUSDC
	req.Track = true
	res, err := h.svc.Execute(context.Background(), req, h.key)
	assert.ErrorIs(t, err, swaperr.ErrPollTimeout)
	assert.True(t, res.StillPending)
	assert.Equal(t, tracker.StatusPending, res.Trade.Status)
}

func TestExecute_QuoteFailureStopsPipeline(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Quoter = failingQuoter{err: swaperr.ErrAssetNotFound}
	})

	_, err := h.svc.Execute(context.Background(), solToUSDC, h.key)
	assert.ErrorIs(t, err, swaperr.ErrAssetNotFound)
	assert.Zero(t, h.preparer.calls)
}

func TestExecute_CodecErrorsReturnedVerbatim(t *testing.T) {
	other := newKey(t)
	notOurs, _ := unsignedTransfer(t, other.Address)

	tests := []struct {
		name     string
		unsigned string
		want     error
	}{
		{"not base64", "%%%", swaperr.ErrMalformedTransaction},
		{"truncated", base64.StdEncoding.EncodeToString([]byte{1, 0, 0}), swaperr.ErrMalformedTransaction},
		{"wallet not a signer", notOurs, swaperr.ErrMalformedTransaction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			h.preparer.unsigned = tt.unsigned

			_, err := h.svc.Execute(context.Background(), solToUSDC, h.key)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, h.tracker.submitted)
			assert.Empty(t, h.ledger.created)
		})
	}
}

func TestExecute_SubmitRejected(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.submitErr = fmt.Errorf("submit rejected: %w", swaperr.ErrInsufficientFunds)

	res, err := h.svc.Execute(context.Background(), solToUSDC, h.key)
	assert.ErrorIs(t, err, swaperr.ErrInsufficientFunds)
	assert.NotNil(t, res.Signed)
	assert.Nil(t, res.Trade)
	assert.Empty(t, h.publisher.GetPublishedEvents())
}

func TestExecute_LedgerFailureDoesNotFailSwap(t *testing.T) {
	h := newHarness(t, nil)
	h.ledger.err = errors.New("db down")

	res, err := h.svc.Execute(context.Background(), solToUSDC, h.key)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Trade.TransactionHash)

	events := h.publisher.GetPublishedEvents()
	require.Len(t, events, 1)
	assert.Equal(t, res.Trade.TransactionHash, events[0].TransactionHash)
	assert.Equal(t, "SOL", events[0].FromAsset)
}

func TestExecute_ZeroKey(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.Execute(context.Background(), solToUSDC, keys.WalletKey{})
	assert.ErrorIs(t, err, swaperr.ErrInvalidKeyFormat)
	assert.Zero(t, h.preparer.calls)
}

func TestExecute_CancelledWhileTracking(t *testing.T) {
	h := newHarness(t, nil)
	h.tracker.trackErr = context.Canceled

	req := solToUSDC
	req.Track = true
	res, err := h.svc.Execute(context.Background(), req, h.key)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, res.StillPending)
	assert.Equal(t, tracker.StatusPending, res.Trade.Status)
	assert.Empty(t, h.watcher.hash)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
	for _, name := range []string{"quoter", "preparer", "signer", "tracker"} {
		assert.Contains(t, err.Error(), name)
	}
}
