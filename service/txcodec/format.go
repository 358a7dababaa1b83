// Package txcodec decodes aggregator-built unsigned transactions, signs them
// with the wallet key and re-encodes them for submission.
//
// Two wire formats exist for the same conceptual transaction. Both start
// with a compact-u16 signature count and that many 64-byte signatures. A
// legacy message follows directly; a versioned message is prefixed by a byte
// with the high bit set (0x80 | version) and may end with address lookup
// table references. The format is derived from the bytes once, in Decode,
// and carried as a Format tag from then on.
package txcodec

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/brojonat/swapper/service/swaperr"
)

type Format int

const (
	FormatLegacy Format = iota + 1
	FormatVersioned
)

func (f Format) String() string {
	switch f {
	case FormatLegacy:
		return "legacy"
	case FormatVersioned:
		return "versioned"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

const (
	signatureSize = 64
	pubkeySize    = 32
	hashSize      = 32

	versionPrefixMask = 0x80
	supportedVersion  = 0
)

// UnsignedTransaction is aggregator output whose format has been derived
// from its bytes.
type UnsignedTransaction struct {
	Raw    []byte
	Format Format
}

// SignedTransaction carries the wallet's signature in its slot.
type SignedTransaction struct {
	Raw       []byte
	Format    Format
	Signature solana.Signature
}

// Base64 is the transport encoding.
func (s *SignedTransaction) Base64() string {
	return base64.StdEncoding.EncodeToString(s.Raw)
}

// ID is the transaction's identity on chain: its first signature.
func (s *SignedTransaction) ID() string {
	var first solana.Signature
	l, err := parseLayout(s.Raw, s.Format)
	if err != nil {
		return s.Signature.String()
	}
	copy(first[:], s.Raw[l.sigOffset:l.sigOffset+signatureSize])
	return first.String()
}

// DecodeBase64 decodes the transport encoding and then the wire bytes.
func DecodeBase64(s string) (UnsignedTransaction, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return UnsignedTransaction{}, fmt.Errorf("%w: invalid base64: %v", swaperr.ErrMalformedTransaction, err)
	}
	return Decode(raw)
}

// Decode derives the format from the message prefix and validates the
// whole transaction against that format.
func Decode(raw []byte) (UnsignedTransaction, error) {
	format, err := sniff(raw)
	if err != nil {
		return UnsignedTransaction{}, err
	}
	if _, err := parse(raw, format); err != nil {
		return UnsignedTransaction{}, err
	}

	out := make([]byte, len(raw))
	copy(out, raw)
	return UnsignedTransaction{Raw: out, Format: format}, nil
}

func sniff(raw []byte) (Format, error) {
	dec := bin.NewBinDecoder(raw)
	n, err := dec.ReadCompactU16()
	if err != nil {
		return 0, fmt.Errorf("%w: signature count: %v", swaperr.ErrMalformedTransaction, err)
	}
	if _, err := dec.ReadNBytes(n * signatureSize); err != nil {
		return 0, fmt.Errorf("%w: %d signatures: %v", swaperr.ErrMalformedTransaction, n, err)
	}
	first, err := dec.ReadUint8()
	if err != nil {
		return 0, fmt.Errorf("%w: empty message", swaperr.ErrMalformedTransaction)
	}
	if first&versionPrefixMask != 0 {
		return FormatVersioned, nil
	}
	return FormatLegacy, nil
}

// layout records where the fields the signer touches live in the wire bytes.
type layout struct {
	format          Format
	sigCount        int
	sigOffset       int
	msgOffset       int
	numRequired     int
	keysOffset      int
	numKeys         int
	blockhashOffset int
}

// parse runs the format-specific decoder and then full structural validation.
func parse(raw []byte, format Format) (layout, error) {
	l, err := parseLayout(raw, format)
	if err != nil {
		return layout{}, err
	}
	if _, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw)); err != nil {
		return layout{}, fmt.Errorf("%w: %v", swaperr.ErrMalformedTransaction, err)
	}
	return l, nil
}

// parseLayout reads raw strictly as format. A message whose prefix belongs
// to the other format is rejected with ErrFormatMismatch before any other
// field is interpreted.
func parseLayout(raw []byte, format Format) (layout, error) {
	if format != FormatLegacy && format != FormatVersioned {
		return layout{}, fmt.Errorf("%w: unknown format %s", swaperr.ErrMalformedTransaction, format)
	}

	dec := bin.NewBinDecoder(raw)
	pos := func() int { return len(raw) - dec.Remaining() }
	malformed := func(what string, err error) error {
		return fmt.Errorf("%w: %s transaction: %s: %v", swaperr.ErrMalformedTransaction, format, what, err)
	}

	l := layout{format: format}

	n, err := dec.ReadCompactU16()
	if err != nil {
		return layout{}, malformed("signature count", err)
	}
	l.sigCount = n
	l.sigOffset = pos()
	if _, err := dec.ReadNBytes(n * signatureSize); err != nil {
		return layout{}, malformed("signatures", err)
	}
	l.msgOffset = pos()

	first, err := dec.ReadUint8()
	if err != nil {
		return layout{}, malformed("message", err)
	}
	versioned := first&versionPrefixMask != 0

	switch {
	case format == FormatLegacy && versioned:
		return layout{}, fmt.Errorf("%w: legacy decoder found version prefix 0x%02x", swaperr.ErrFormatMismatch, first)
	case format == FormatVersioned && !versioned:
		return layout{}, fmt.Errorf("%w: versioned decoder found no version prefix (first byte 0x%02x)", swaperr.ErrFormatMismatch, first)
	}

	numRequired := first
	if versioned {
		if v := first &^ versionPrefixMask; v != supportedVersion {
			return layout{}, fmt.Errorf("%w: unsupported message version %d", swaperr.ErrMalformedTransaction, v)
		}
		if numRequired, err = dec.ReadUint8(); err != nil {
			return layout{}, malformed("header", err)
		}
	}
	// Remaining header bytes: read-only signed and unsigned account counts.
	if _, err := dec.ReadNBytes(2); err != nil {
		return layout{}, malformed("header", err)
	}
	l.numRequired = int(numRequired)

	if l.sigCount != l.numRequired {
		return layout{}, fmt.Errorf("%w: %d signatures but header requires %d",
			swaperr.ErrMalformedTransaction, l.sigCount, l.numRequired)
	}

	if l.numKeys, err = dec.ReadCompactU16(); err != nil {
		return layout{}, malformed("account key count", err)
	}
	if l.numKeys < l.numRequired {
		return layout{}, fmt.Errorf("%w: %d account keys but %d required signers",
			swaperr.ErrMalformedTransaction, l.numKeys, l.numRequired)
	}
	l.keysOffset = pos()
	if _, err := dec.ReadNBytes(l.numKeys * pubkeySize); err != nil {
		return layout{}, malformed("account keys", err)
	}

	l.blockhashOffset = pos()
	if _, err := dec.ReadNBytes(hashSize); err != nil {
		return layout{}, malformed("recent blockhash", err)
	}

	return l, nil
}
