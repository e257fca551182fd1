package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"VaultLedger/internal/query"

	"github.com/google/uuid"
)

// printSteps writes one row per command with amounts in token units.
func (s *sim) printSteps(w io.Writer) error {
	want := s.core.Vault().Want()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "#\tcommand\tassets\tidle\tdebt\tlocked\tpps\trejected\t")
	for _, st := range s.log {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			st.Index,
			st.Command,
			query.Units(st.TotalAssets, want).StringFixed(2),
			query.Units(st.TotalIdle, want).StringFixed(2),
			query.Units(st.TotalDebt, want).StringFixed(2),
			query.Units(st.LockedProfit, want).StringFixed(2),
			query.Units(st.PricePerShare, want).StringFixed(6),
			st.Rejected,
		)
	}
	return tw.Flush()
}

func (s *sim) printHarvests(w io.Writer) error {
	entries := s.harvests.QueryByStrategy(uuid.Nil, s.harvests.Len())
	if len(entries) == 0 {
		return nil
	}
	want := s.core.Vault().Want()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "seq\tstrategy\tgain\tloss\tpayment\tcredit\tfees\tpps\t")
	// newest first from the history; print in ledger order
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			e.Sequence,
			e.StrategyID.String()[:8],
			query.Units(e.Gain, want).StringFixed(2),
			query.Units(e.Loss, want).StringFixed(2),
			query.Units(e.DebtPayment, want).StringFixed(2),
			query.Units(e.Credit, want).StringFixed(2),
			query.Units(e.Fees, want).StringFixed(2),
			query.Units(e.PricePerShare, want).StringFixed(6),
		)
	}
	return tw.Flush()
}
