package domain

import (
	"strings"
	"time"
)

// Exchange identifies a supported venue.
type Exchange string

const (
	BingX  Exchange = "bingx"
	OKX    Exchange = "okx"
	Bybit  Exchange = "bybit"
	Bitget Exchange = "bitget"
)

// ParseExchange normalizes a stored exchange name. An empty value
// defaults to BingX, the venue every legacy row was created for.
func ParseExchange(raw string) (Exchange, bool) {
	switch Exchange(strings.ToLower(strings.TrimSpace(raw))) {
	case "", BingX:
		return BingX, true
	case OKX:
		return OKX, true
	case Bybit:
		return Bybit, true
	case Bitget:
		return Bitget, true
	default:
		return Exchange(raw), false
	}
}

// Subscription types that grant signal execution.
const (
	SubscriptionRegular          = "regular"
	SubscriptionReferralApproved = "referral_approved"
	SubscriptionReferralPending  = "referral_pending"
)

// Account is a subscribed user bound to one exchange.
type Account struct {
	UserID           int64     `json:"user_id" yaml:"user_id"`
	ChatID           int64     `json:"chat_id" yaml:"chat_id"`
	Exchange         Exchange  `json:"exchange" yaml:"exchange"`
	APIKey           string    `json:"-" yaml:"api_key"`
	APISecret        string    `json:"-" yaml:"secret_key"`
	Passphrase       string    `json:"-" yaml:"passphrase"`
	SubscriptionType string    `json:"subscription_type" yaml:"subscription_type"`
	SubscriptionEnd  time.Time `json:"subscription_end" yaml:"subscription_end"`
}

// HasCredentials reports whether the account can sign requests.
func (a Account) HasCredentials() bool {
	return a.APIKey != "" && a.APISecret != ""
}

// Eligible reports whether signals should be executed for the account at now.
func (a Account) Eligible(now time.Time) bool {
	if !a.HasCredentials() || !a.SubscriptionEnd.After(now) {
		return false
	}
	return a.SubscriptionType == SubscriptionRegular || a.SubscriptionType == SubscriptionReferralApproved
}

// NotifyChatID returns the chat that receives the account's notifications.
func (a Account) NotifyChatID() int64 {
	if a.ChatID != 0 {
		return a.ChatID
	}
	return a.UserID
}
