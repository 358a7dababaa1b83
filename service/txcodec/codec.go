package txcodec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/swapper/service/keys"
	"github.com/brojonat/swapper/service/metrics"
	"github.com/brojonat/swapper/service/swaperr"
)

// BlockhashSource supplies a recent blockhash to sign against.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
}

type Codec struct {
	blockhashes BlockhashSource
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// NewCodec creates a codec. With a nil BlockhashSource transactions are
// signed with the blockhash the aggregator put in them.
func NewCodec(blockhashes BlockhashSource, logger *slog.Logger, m *metrics.Metrics) *Codec {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Codec{
		blockhashes: blockhashes,
		logger:      logger.With("component", "txcodec"),
		metrics:     m,
	}
}

// Sign places the wallet's signature in its signer slot. It never signs
// bytes that do not decode strictly as unsigned.Format.
func (c *Codec) Sign(ctx context.Context, unsigned UnsignedTransaction, key keys.WalletKey) (*SignedTransaction, error) {
	var (
		signed *SignedTransaction
		err    error
	)
	switch unsigned.Format {
	case FormatLegacy:
		signed, err = c.signLegacy(ctx, unsigned.Raw, key)
	case FormatVersioned:
		signed, err = c.signVersioned(ctx, unsigned.Raw, key)
	default:
		err = fmt.Errorf("%w: unknown format %s", swaperr.ErrMalformedTransaction, unsigned.Format)
	}

	status := "success"
	if err != nil {
		status = "error"
	}
	c.metrics.RecordSignature(unsigned.Format.String(), status)
	return signed, err
}

// signLegacy signs the serialized legacy message.
func (c *Codec) signLegacy(ctx context.Context, raw []byte, key keys.WalletKey) (*SignedTransaction, error) {
	l, err := parse(raw, FormatLegacy)
	if err != nil {
		return nil, err
	}
	return c.sign(ctx, raw, l, key)
}

// signVersioned signs the version-prefixed message, lookup table
// references included.
func (c *Codec) signVersioned(ctx context.Context, raw []byte, key keys.WalletKey) (*SignedTransaction, error) {
	l, err := parse(raw, FormatVersioned)
	if err != nil {
		return nil, err
	}
	return c.sign(ctx, raw, l, key)
}

func (c *Codec) sign(ctx context.Context, raw []byte, l layout, key keys.WalletKey) (*SignedTransaction, error) {
	if key.IsZero() {
		return nil, fmt.Errorf("%w: no wallet key", swaperr.ErrInvalidKeyFormat)
	}

	buf := make([]byte, len(raw))
	copy(buf, raw)

	idx := -1
	for i := 0; i < l.numRequired; i++ {
		off := l.keysOffset + i*pubkeySize
		if bytes.Equal(buf[off:off+pubkeySize], key.Address[:]) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: wallet %s is not a required signer", swaperr.ErrMalformedTransaction, key.Address)
	}

	if c.blockhashes != nil {
		if err := c.refreshBlockhash(ctx, buf, l, idx); err != nil {
			return nil, err
		}
	}

	sig, err := key.Sign(buf[l.msgOffset:])
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s transaction: %w", l.format, err)
	}
	copy(buf[l.sigOffset+idx*signatureSize:], sig[:])

	c.logger.DebugContext(ctx, "transaction signed",
		"format", l.format.String(),
		"signer", key.Address.String(),
		"signer_index", idx,
		"signature", sig.String(),
	)

	return &SignedTransaction{Raw: buf, Format: l.format, Signature: sig}, nil
}

// refreshBlockhash overwrites the recent blockhash in buf. It is skipped
// when another signer has already signed, since that signature covers the
// current blockhash.
func (c *Codec) refreshBlockhash(ctx context.Context, buf []byte, l layout, signerIdx int) error {
	for i := 0; i < l.sigCount; i++ {
		if i == signerIdx {
			continue
		}
		off := l.sigOffset + i*signatureSize
		if !isZero(buf[off : off+signatureSize]) {
			c.logger.WarnContext(ctx, "keeping aggregator blockhash, transaction already co-signed", "signer_index", i)
			return nil
		}
	}

	hash, err := c.blockhashes.LatestBlockhash(ctx)
	if err != nil {
		return fmt.Errorf("%w: failed to fetch recent blockhash: %w", swaperr.ErrNetwork, err)
	}
	copy(buf[l.blockhashOffset:l.blockhashOffset+hashSize], hash[:])
	return nil
}

func isZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
