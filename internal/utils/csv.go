package utils

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"time"

	"cryptoSignalBot/internal/domain"
)

var tradeHeader = []string{
	"id", "user_id", "exchange", "symbol", "side", "position_side", "quantity", "entry_price",
	"stop_loss", "take_profit_1", "take_profit_2", "take_profit_3", "order_id", "sl_order_id",
	"tp1_order_id", "tp2_order_id", "tp3_order_id", "status", "created_at", "closed_at",
}

// WriteTradesToCSV writes trades to filename, replacing any existing file.
func WriteTradesToCSV(trades []*domain.Trade, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := WriteTrades(file, trades); err != nil {
		return err
	}
	return file.Close()
}

// WriteTrades writes a header row followed by one row per trade.
func WriteTrades(w io.Writer, trades []*domain.Trade) error {
	writer := csv.NewWriter(w)

	// Write header
	if err := writer.Write(tradeHeader); err != nil {
		return err
	}

	for _, t := range trades {
		closedAt := ""
		if !t.ClosedAt.IsZero() {
			closedAt = t.ClosedAt.UTC().Format(time.RFC3339)
		}
		if err := writer.Write([]string{
			t.ID,
			strconv.FormatInt(t.UserID, 10),
			string(t.Exchange),
			t.Symbol,
			string(t.Side),
			string(t.PositionSide),
			t.Quantity.String(),
			t.EntryPrice.String(),
			t.StopLoss.String(),
			t.TakeProfit1.String(),
			t.TakeProfit2.String(),
			t.TakeProfit3.String(),
			t.OrderID,
			t.SLOrderID,
			t.TP1OrderID,
			t.TP2OrderID,
			t.TP3OrderID,
			string(t.Status),
			t.CreatedAt.UTC().Format(time.RFC3339),
			closedAt,
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
