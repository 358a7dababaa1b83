package client

// TokenRequest is the body of POST /api/v1/auth/token.
type TokenRequest struct {
	AttestationToken string `json:"attestation_token"`
	Platform         string `json:"platform"`
	DeviceID         string `json:"device_id"`
}

// TokenResponse carries a bearer token and its lifetime in seconds.
type TokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// FeeBreakdown is the network-fee itemization in native units. All fields
// are fixed-point decimal strings.
type FeeBreakdown struct {
	TradingFee         string `json:"trading_fee"`
	BaseTransactionFee string `json:"base_transaction_fee"`
	AccountCreationFee string `json:"account_creation_fee"`
	PriorityFee        string `json:"priority_fee"`
	Total              string `json:"total"`
	AccountsToCreate   int    `json:"accounts_to_create"`
}

type QuoteRequest struct {
	FromAsset           string `json:"from_asset"`
	ToAsset             string `json:"to_asset"`
	Amount              uint64 `json:"amount,string"`
	SlippageBps         int    `json:"slippage_bps"`
	IncludeFeeBreakdown bool   `json:"include_fee_breakdown"`
	WalletAddress       string `json:"wallet_address,omitempty"`
}

type QuoteResponse struct {
	FromAsset          string        `json:"from_asset"`
	ToAsset            string        `json:"to_asset"`
	InputAmount        uint64        `json:"input_amount,string"`
	EstimatedOutput    string        `json:"estimated_output"`
	MinimumOutput      string        `json:"minimum_output"`
	ExchangeRate       string        `json:"exchange_rate"`
	Fee                string        `json:"fee"`
	PriceImpactPercent string        `json:"price_impact_percent"`
	SlippageBps        int           `json:"slippage_bps"`
	RouteDescription   string        `json:"route_description"`
	FeeBreakdown       *FeeBreakdown `json:"fee_breakdown,omitempty"`
}

type PrepareSwapRequest struct {
	FromAsset     string `json:"from_asset"`
	ToAsset       string `json:"to_asset"`
	Amount        uint64 `json:"amount,string"`
	SlippageBps   int    `json:"slippage_bps"`
	WalletAddress string `json:"wallet_address"`
}

// PrepareSwapResponse carries the aggregator's unsigned transaction as
// base64 wire bytes.
type PrepareSwapResponse struct {
	UnsignedTransaction string        `json:"unsigned_transaction"`
	FeeBreakdown        *FeeBreakdown `json:"fee_breakdown,omitempty"`
}

type SubmitSwapRequest struct {
	FromAsset         string `json:"from_asset"`
	ToAsset           string `json:"to_asset"`
	Amount            uint64 `json:"amount,string"`
	SignedTransaction string `json:"signed_transaction"`
}

type SubmitSwapResponse struct {
	TradeID         string `json:"trade_id"`
	TransactionHash string `json:"transaction_hash"`
}

// SwapStatus is the backend's view of a submitted transaction.
type SwapStatus struct {
	Status        string  `json:"status"` // pending, confirmed, finalized, failed
	Confirmations uint64  `json:"confirmations"`
	Finalized     bool    `json:"finalized"`
	Error         *string `json:"error,omitempty"`
}
