package quote

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/shopspring/decimal"

	"github.com/brojonat/swapper/service/swaperr"
)

// Well-known mints.
const (
	NativeMint = "So11111111111111111111111111111111111111112"
	USDCMint   = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint   = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// Asset is a tradeable token with a reference price in USD.
type Asset struct {
	Symbol   string
	Name     string
	Mint     string
	Decimals int32
	Price    decimal.Decimal
	// Native is set for the chain's own asset, which needs no token account.
	Native bool
}

// Catalog resolves assets by symbol (case-insensitive) or mint.
type Catalog struct {
	bySymbol map[string]Asset
	byMint   map[string]Asset
	order    []string
}

// NewCatalog builds a catalog from assets. Later duplicates replace earlier ones.
func NewCatalog(assets []Asset) (*Catalog, error) {
	c := &Catalog{
		bySymbol: make(map[string]Asset),
		byMint:   make(map[string]Asset),
	}
	for _, a := range assets {
		if a.Symbol == "" || a.Mint == "" {
			return nil, fmt.Errorf("asset %q: symbol and mint are required", a.Symbol)
		}
		if a.Decimals < 0 || a.Decimals > 18 {
			return nil, fmt.Errorf("asset %s: decimals %d out of range", a.Symbol, a.Decimals)
		}
		if !a.Price.IsPositive() {
			return nil, fmt.Errorf("asset %s: price must be positive", a.Symbol)
		}
		key := strings.ToUpper(a.Symbol)
		if _, seen := c.bySymbol[key]; !seen {
			c.order = append(c.order, key)
		}
		c.bySymbol[key] = a
		c.byMint[a.Mint] = a
	}
	return c, nil
}

// DefaultCatalog is used when no catalog file is configured.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog([]Asset{
		{Symbol: "SOL", Name: "Solana", Mint: NativeMint, Decimals: 9, Price: decimal.NewFromInt(100), Native: true},
		{Symbol: "USDC", Name: "USD Coin", Mint: USDCMint, Decimals: 6, Price: decimal.NewFromInt(1)},
		{Symbol: "USDT", Name: "Tether USD", Mint: USDTMint, Decimals: 6, Price: decimal.NewFromInt(1)},
	})
	if err != nil {
		panic(err)
	}
	return c
}

type catalogFile struct {
	Assets []struct {
		Symbol   string `toml:"symbol"`
		Name     string `toml:"name"`
		Mint     string `toml:"mint"`
		Decimals int32  `toml:"decimals"`
		Price    string `toml:"price"`
		Native   bool   `toml:"native"`
	} `toml:"assets"`
}

// LoadCatalog reads a TOML catalog:
//
//	[[assets]]
//	symbol = "SOL"
//	mint = "So11111111111111111111111111111111111111112"
//	decimals = 9
//	price = "100"
//	native = true
//
// Prices are strings so they are parsed exactly.
func LoadCatalog(path string) (*Catalog, error) {
	var f catalogFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read asset catalog %s: %w", path, err)
	}

	assets := make([]Asset, 0, len(f.Assets))
	for _, a := range f.Assets {
		price, err := decimal.NewFromString(a.Price)
		if err != nil {
			return nil, fmt.Errorf("asset %s: invalid price %q: %w", a.Symbol, a.Price, err)
		}
		assets = append(assets, Asset{
			Symbol:   a.Symbol,
			Name:     a.Name,
			Mint:     a.Mint,
			Decimals: a.Decimals,
			Price:    price,
			Native:   a.Native,
		})
	}
	return NewCatalog(assets)
}

// Lookup resolves id as a symbol first, then as a mint.
func (c *Catalog) Lookup(id string) (Asset, error) {
	if a, ok := c.bySymbol[strings.ToUpper(strings.TrimSpace(id))]; ok {
		return a, nil
	}
	if a, ok := c.byMint[strings.TrimSpace(id)]; ok {
		return a, nil
	}
	return Asset{}, fmt.Errorf("%w: %q", swaperr.ErrAssetNotFound, id)
}

// Assets lists the catalog in insertion order.
func (c *Catalog) Assets() []Asset {
	out := make([]Asset, 0, len(c.order))
	for _, k := range c.order {
		out = append(out, c.bySymbol[k])
	}
	return out
}
