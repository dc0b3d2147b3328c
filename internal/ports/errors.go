package ports

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"cryptoSignalBot/internal/domain"
)

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Signal Execution Errors
	ErrInvalidSignal            = errors.New("invalid signal")
	ErrNoEligibleUsers          = errors.New("no users with an active subscription and API keys")
	ErrInsufficientBalance      = errors.New("insufficient balance")
	ErrInsufficientMargin       = errors.New("insufficient margin")
	ErrEntryOrderFailed         = errors.New("entry order failed")
	ErrBracketLegFailed         = errors.New("bracket leg failed")
	ErrReconciliationIncomplete = errors.New("opposite position could not be confirmed closed")

	// Exchange Specific Errors
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrUnsupportedExchange  = errors.New("exchange is not supported")
	ErrTimestampDesync      = errors.New("request timestamp rejected by exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Database Specific Errors
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// APIError carries the raw venue response code behind a mapped error.
type APIError struct {
	Exchange domain.Exchange
	Code     string
	Message  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s api error %s: %s", e.Exchange, e.Code, e.Message)
}

// MarginError reports the margin a sized order needs against what the account holds.
type MarginError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *MarginError) Error() string {
	return fmt.Sprintf("%s: required %s USDT, available %s USDT",
		ErrInsufficientMargin, e.Required.StringFixed(2), e.Available.StringFixed(2))
}

// Is makes errors.Is(err, ErrInsufficientMargin) match.
func (e *MarginError) Is(target error) bool {
	return target == ErrInsufficientMargin
}

// errorKinds is ordered from most to least specific, so wrapped chains
// report the engine category rather than an underlying transport cause.
var errorKinds = []struct {
	err  error
	name string
}{
	{ErrInvalidSignal, "InvalidSignal"},
	{ErrNoEligibleUsers, "NoEligibleUsers"},
	{ErrInsufficientBalance, "InsufficientBalance"},
	{ErrInsufficientMargin, "InsufficientMargin"},
	{ErrReconciliationIncomplete, "ReconciliationIncomplete"},
	{ErrEntryOrderFailed, "EntryOrderFailed"},
	{ErrBracketLegFailed, "BracketLegFailed"},
	{ErrDuplicateEntry, "DuplicateEntry"},
	{ErrUnsupportedExchange, "UnsupportedExchange"},
	{ErrTimestampDesync, "TimestampDesync"},
	{ErrAuthenticationFailed, "AuthenticationFailed"},
	{ErrRateLimited, "ExchangeUnavailable"},
	{ErrTimeout, "ExchangeUnavailable"},
	{ErrExchangeUnavailable, "ExchangeUnavailable"},
	{ErrOrderNotFound, "OrderNotFound"},
	{ErrNotFound, "NotFound"},
}

// ErrorKind returns the taxonomy name of err for per-user reporting.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range errorKinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Unknown"
}
