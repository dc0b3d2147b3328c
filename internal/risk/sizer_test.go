package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/ports"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func btcInfo() domain.SymbolInfo {
	return domain.SymbolInfo{Symbol: "BTC-USDT", MinQty: d("0.001"), QtyStep: d("0.001"), ContractValue: d("1"), MaxLeverage: 125}
}

func TestSizer_Size(t *testing.T) {
	sizer := NewSizer(SizerConfig{})

	tests := []struct {
		name     string
		balance  string
		price    string
		leverage int
		risk     string
		info     domain.SymbolInfo
		want     string
		wantErr  error
	}{
		{
			name:    "reference scenario",
			balance: "1000", price: "50000", leverage: 10, risk: "0.05",
			info: btcInfo(),
			want: "0.01",
		},
		{
			name:    "rounds half up to step",
			balance: "1000", price: "40000", leverage: 10, risk: "0.05",
			// 500 / 40000 = 0.0125 -> 0.013
			info: btcInfo(),
			want: "0.013",
		},
		{
			name:    "rounds down below half",
			balance: "1000", price: "60000", leverage: 10, risk: "0.05",
			// 500 / 60000 = 0.008333 -> 0.008
			info: btcInfo(),
			want: "0.008",
		},
		{
			name:    "clamps up to min qty",
			balance: "100", price: "50000", leverage: 5, risk: "0.05",
			// 25 / 50000 = 0.0005 -> rounds to 0.001 anyway; demand larger min
			info: domain.SymbolInfo{Symbol: "BTC-USDT", MinQty: d("0.002"), QtyStep: d("0.001")},
			want: "0.002",
		},
		{
			name:    "contract value divides quantity",
			balance: "1000", price: "50000", leverage: 10, risk: "0.05",
			// 0.01 BTC / 0.01 ctVal = 1 contract
			info: domain.SymbolInfo{Symbol: "BTC-USDT-SWAP", MinQty: d("0.01"), QtyStep: d("0.01"), ContractValue: d("0.01")},
			want: "1",
		},
		{
			name:    "zero balance",
			balance: "0", price: "50000", leverage: 10, risk: "0.05",
			info:    btcInfo(),
			wantErr: ports.ErrInsufficientBalance,
		},
		{
			name:    "negative balance",
			balance: "-3", price: "50000", leverage: 10, risk: "0.05",
			info:    btcInfo(),
			wantErr: ports.ErrInsufficientBalance,
		},
		{
			name:    "min qty clamp exceeds margin",
			balance: "10", price: "50000", leverage: 10, risk: "0.05",
			info:    domain.SymbolInfo{Symbol: "BTC-USDT", MinQty: d("0.01"), QtyStep: d("0.001")},
			wantErr: ports.ErrInsufficientMargin,
		},
		{
			name:    "invalid risk",
			balance: "1000", price: "50000", leverage: 10, risk: "1.5",
			info:    btcInfo(),
			wantErr: ports.ErrInvalidRequest,
		},
		{
			name:    "invalid leverage",
			balance: "1000", price: "50000", leverage: 0, risk: "0.05",
			info:    btcInfo(),
			wantErr: ports.ErrInvalidRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			qty, err := sizer.Size(d(tt.balance), tt.info, d(tt.price), tt.leverage, d(tt.risk))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.True(t, qty.Equal(d(tt.want)), "want %s, got %s", tt.want, qty)
		})
	}
}

func TestSizer_MarginErrorCarriesAmounts(t *testing.T) {
	sizer := NewSizer(SizerConfig{})
	_, err := sizer.Size(d("10"), domain.SymbolInfo{MinQty: d("0.01"), QtyStep: d("0.001")}, d("50000"), 10, d("0.05"))

	var me *ports.MarginError
	require.True(t, errors.As(err, &me))
	// 0.01 * 50000 / 10 = 50, plus 0.1% buffer
	assert.True(t, me.Required.Equal(d("50.05")), me.Required.String())
	assert.True(t, me.Available.Equal(d("10")))
}

func TestSizer_QuantityInvariant(t *testing.T) {
	sizer := NewSizer(SizerConfig{})
	steps := []string{"0.001", "0.01", "0.1", "1", "5"}
	mins := []string{"0.001", "0.01", "0.5", "1", "10"}
	balances := []string{"37.5", "100", "1000", "12345.67"}
	prices := []string{"0.35", "2.5", "1830.2", "50000"}

	for _, step := range steps {
		for _, minQty := range mins {
			info := domain.SymbolInfo{MinQty: d(minQty), QtyStep: d(step)}
			for _, bal := range balances {
				for _, price := range prices {
					for _, lev := range []int{1, 5, 20} {
						qty, err := sizer.Size(d(bal), info, d(price), lev, d("0.05"))
						if err != nil {
							assert.True(t, errors.Is(err, ports.ErrInsufficientMargin), "unexpected %v", err)
							continue
						}
						assert.False(t, qty.IsNegative())
						assert.True(t, qty.Mod(d(step)).IsZero(), "qty %s not a multiple of %s", qty, step)
						assert.True(t, qty.GreaterThanOrEqual(d(minQty)), "qty %s below min %s", qty, minQty)
					}
				}
			}
		}
	}
}

func TestRoundingHelpers(t *testing.T) {
	assert.True(t, RoundToStep(d("0.0125"), d("0.001")).Equal(d("0.013")))
	assert.True(t, RoundToStep(d("0.01249"), d("0.001")).Equal(d("0.012")))
	assert.True(t, FloorToStep(d("0.0129"), d("0.001")).Equal(d("0.012")))
	assert.True(t, CeilToStep(d("0.0121"), d("0.001")).Equal(d("0.013")))
	assert.True(t, RoundToStep(d("7"), decimal.Zero).Equal(d("7")))
}

func TestSplitQuantity(t *testing.T) {
	tests := []struct {
		name string
		qty  string
		step string
		n    int
		want []string
	}{
		{"reference scenario", "0.010", "0.001", 3, []string{"0.004", "0.003", "0.003"}},
		{"even", "0.009", "0.001", 3, []string{"0.003", "0.003", "0.003"}},
		{"two leftover lots", "11", "1", 3, []string{"4", "4", "3"}},
		{"fewer lots than legs", "0.002", "0.001", 3, []string{"0.001", "0.001", "0"}},
		{"two legs", "0.005", "0.001", 2, []string{"0.003", "0.002"}},
		{"sub-lot residue to first", "0.0101", "0.001", 3, []string{"0.0041", "0.003", "0.003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parts := SplitQuantity(d(tt.qty), d(tt.step), tt.n)
			require.Len(t, parts, len(tt.want))
			for i, w := range tt.want {
				assert.True(t, parts[i].Equal(d(w)), "part %d: want %s, got %s", i, w, parts[i])
			}
		})
	}
}

func TestSplitQuantity_SumsExactly(t *testing.T) {
	for _, step := range []string{"0.001", "0.01", "1", "0.5"} {
		for lots := int64(1); lots <= 50; lots++ {
			qty := decimal.NewFromInt(lots).Mul(d(step))
			parts := SplitQuantity(qty, d(step), 3)
			sum := decimal.Zero
			for _, p := range parts {
				sum = sum.Add(p)
			}
			assert.True(t, sum.Equal(qty), "step %s lots %d: sum %s != %s", step, lots, sum, qty)
		}
	}
}
