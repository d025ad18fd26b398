package cli

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// render writes v as a JSON response, or as a human-readable summary in
// text mode.
func render(out *OutputFormatter, v any) error {
	if out.Format == "json" {
		return out.Success(v)
	}
	w := out.Writer
	switch r := v.(type) {
	case *domain.Obligation:
		writeObligation(w, r)
	case []*domain.Obligation:
		if len(r) == 0 {
			fmt.Fprintln(w, "No obligations.")
		}
		for _, o := range r {
			writeObligation(w, o)
		}
	case *domain.Swap:
		writeSwap(w, r)
	case *domain.ComposedContract:
		fmt.Fprintf(w, "composed %s members=%s\n", r.ID, strings.Join(r.Members, ","))
	case *engine.ComposedView:
		fmt.Fprintf(w, "composed %s %s (version %d)\n", r.Contract.ID, r.Status, r.Contract.Version)
		for _, m := range r.Members {
			writeObligation(w, m)
		}
	case []domain.Event:
		if len(r) == 0 {
			fmt.Fprintln(w, "No events.")
		}
		for _, e := range r {
			writeEvent(w, e)
		}
	default:
		fmt.Fprintln(w, v)
	}
	return nil
}

func writeObligation(w io.Writer, o *domain.Obligation) {
	fmt.Fprintf(w, "obligation %s %s holder=%s counterparty=%s notional=%s %s deadline=%s\n",
		o.ID, o.Status, o.Holder, o.Counterparty, o.Notional, o.Denomination, o.AcceptanceDeadline.Format(time.RFC3339))
	if o.Lock != nil {
		fmt.Fprintf(w, "  locked by swap %s (%s, %s)\n", o.Lock.SwapID, o.Lock.Role, o.Lock.SwapStatus)
	}
	if o.Supersedes != "" {
		fmt.Fprintf(w, "  supersedes %s\n", o.Supersedes)
	}
	if o.SupersededBy != "" {
		fmt.Fprintf(w, "  superseded by %s\n", o.SupersededBy)
	}
	writeLegs(w, o.Legs)
}

func writeSwap(w io.Writer, s *domain.Swap) {
	kind := "atomic"
	if s.Repo() {
		kind = "repo"
	}
	fmt.Fprintf(w, "swap %s %s %s deadline=%s", s.ID, kind, s.Status, s.Deadline.Format(time.RFC3339))
	if s.Repo() {
		fmt.Fprintf(w, " expiry=%s", s.Expiry.Format(time.RFC3339))
	}
	fmt.Fprintln(w)
	for _, side := range []domain.Side{domain.SideInitiator, domain.SideCounterparty} {
		p := s.Get(side)
		fmt.Fprintf(w, "  %s %s obligations=[%s] collateral=[%s] %s\n",
			side, p.Party, strings.Join(p.Obligations, ","), strings.Join(p.Collateral, ","), p.CollateralState)
		writeLegs(w, p.Payments)
	}
	if len(s.RepurchasePayments) > 0 {
		fmt.Fprintln(w, "  repurchase")
		writeLegs(w, s.RepurchasePayments)
	}
}

func writeLegs(w io.Writer, legs []domain.PaymentLeg) {
	for _, l := range legs {
		fmt.Fprintf(w, "    leg %s %s %s %s %s->%s\n", l.ID, l.Status, l.Amount, l.Denomination, l.Source(), l.Payee)
	}
}

func writeEvent(w io.Writer, e domain.Event) {
	fmt.Fprintf(w, "%6d  %s  %-26s %s", e.Seq, e.At.Format(time.RFC3339), e.Kind, e.EntityID)
	if e.Caller != "" {
		fmt.Fprintf(w, " by %s", e.Caller)
	}
	keys := make([]string, 0, len(e.Detail))
	for k := range e.Detail {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(w, " %s=%s", k, e.Detail[k])
	}
	fmt.Fprintln(w)
}
