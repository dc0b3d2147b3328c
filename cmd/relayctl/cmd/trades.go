package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"cryptoSignalBot/config"
	"cryptoSignalBot/internal/domain"
	"cryptoSignalBot/internal/storage"
	"cryptoSignalBot/internal/utils"
)

type tradeFlags struct {
	userID int64
	symbol string
	status string
	limit  int
}

func (f *tradeFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().Int64VarP(&f.userID, "user", "u", 0, "only trades of this user id")
	cmd.Flags().StringVarP(&f.symbol, "symbol", "s", "", "only trades on this venue symbol (e.g. BTC-USDT)")
	cmd.Flags().StringVar(&f.status, "status", "", "open, breakeven or closed")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", defaultLimit, "maximum rows, 0 for all")
}

func (f *tradeFlags) filter() (domain.TradeFilter, error) {
	status := domain.TradeStatus(f.status)
	switch status {
	case "", domain.StatusOpen, domain.StatusBreakeven, domain.StatusClosed:
	default:
		return domain.TradeFilter{}, fmt.Errorf("unknown status %q (want open, breakeven or closed)", f.status)
	}
	if f.limit < 0 {
		return domain.TradeFilter{}, fmt.Errorf("limit cannot be negative")
	}
	return domain.TradeFilter{UserID: f.userID, Symbol: f.symbol, Status: status, Limit: f.limit}, nil
}

func newTradesCmd(env *environment) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Inspect the trade ledger",
	}
	cmd.AddCommand(newTradesListCmd(env), newTradesExportCmd(env))
	return cmd
}

func newTradesListCmd(env *environment) *cobra.Command {
	var flags tradeFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print trades, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return env.withBackend(func(cfg *config.Config, b *storage.Backend) error {
				trades, err := b.Ledger.ListTrades(cmd.Context(), filter)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tUSER\tEXCHANGE\tSYMBOL\tSIDE\tQTY\tENTRY\tSTOP\tSTATUS\tCREATED")
				for _, t := range trades {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
						t.ID, t.UserID, t.Exchange, t.Symbol, t.PositionSide, t.Quantity, t.EntryPrice, t.StopLoss,
						t.Status, t.CreatedAt.UTC().Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
	flags.register(cmd, 50)
	return cmd
}

func newTradesExportCmd(env *environment) *cobra.Command {
	var flags tradeFlags
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write trades to a CSV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			return env.withBackend(func(cfg *config.Config, b *storage.Backend) error {
				trades, err := b.Ledger.ListTrades(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if err := utils.WriteTradesToCSV(trades, out); err != nil {
					return fmt.Errorf("write %s: %w", out, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "exported %d trades to %s\n", len(trades), out)
				return nil
			})
		},
	}
	flags.register(cmd, 0)
	cmd.Flags().StringVarP(&out, "out", "o", "trades.csv", "output CSV path")
	return cmd
}
