package merge

import (
	"fmt"
	"os"
	"strings"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/ops"
	"github.com/Moo-Marc/CtfMegBids/internal/shift"
	"github.com/Moo-Marc/CtfMegBids/internal/sidecar"
)

// ledgerAdditions returns the source shift entries the destination ledger
// lacks. A subject shifted by different amounts on the two sides cannot be
// merged: its sessions would end up on inconsistent dates.
func (e *Engine) ledgerAdditions(source, dest string) ([]shift.Entry, error) {
	srcPath, dstPath := e.cfg.LedgerPath(source), e.cfg.LedgerPath(dest)
	if srcPath == dstPath {
		return nil, nil
	}
	from, err := shift.Read(srcPath)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "load ledger", srcPath, err)
	}
	into, err := shift.Read(dstPath)
	if err != nil {
		return nil, ops.Wrap(ops.ErrIO, operation, "load ledger", dstPath, err)
	}
	have := make(map[string]shift.Entry, len(into))
	for _, en := range into {
		have[en.Subject] = en
	}
	var out []shift.Entry
	for _, en := range from {
		cur, ok := have[en.Subject]
		switch {
		case !ok || (!cur.Set && en.Set):
			out = append(out, en)
		case cur.Set && en.Set && cur.Days != en.Days:
			return nil, ops.Wrap(ops.ErrConflict, operation, "plan",
				fmt.Sprintf("%s%s is shifted by %d days in the destination and %d days in the source",
					bids.PrefixSubject, en.Subject, cur.Days, en.Days), nil)
		}
	}
	return out, nil
}

// mergeLedger adds the source entries to the destination ledger and points
// every reference scan at the label its session ended up with.
func (e *Engine) mergeLedger(dest string, writer *sidecar.Writer, plan *Plan, additions []shift.Entry) error {
	path := e.cfg.LedgerPath(dest)
	if _, err := os.Stat(path); err != nil && len(additions) == 0 {
		return nil
	}
	ledger, err := shift.Open(path, writer)
	if err != nil {
		return err
	}
	for _, en := range ledger.Entries() {
		ledger.Put(plan.relabelReference(SideDestination, en))
	}
	for _, en := range additions {
		ledger.Put(plan.relabelReference(SideSource, en))
	}
	if err := ledger.Close(); err != nil {
		return ops.Wrap(ops.ErrIO, operation, "save ledger", writer.Rel(path), err)
	}
	return nil
}

// relabelReference rewrites the session label embedded in an entry's
// reference scan (ses-<label>/<dir>/sub-<S>_ses-<label>_...) after a relabel.
func (p *Plan) relabelReference(side Side, en shift.Entry) shift.Entry {
	label, _, ok := strings.Cut(strings.TrimPrefix(en.Reference, bids.PrefixSession), "/")
	if !ok || !strings.HasPrefix(en.Reference, bids.PrefixSession) {
		return en
	}
	for _, a := range p.Assignments {
		if a.Subject != en.Subject || a.Side != side || a.Original != label {
			continue
		}
		if a.Final != a.Original {
			old, repl := bids.PrefixSession+a.Original, bids.PrefixSession+a.Final
			en.Reference = repl + strings.TrimPrefix(en.Reference, old)
			en.Reference = strings.ReplaceAll(en.Reference, "_"+old+"_", "_"+repl+"_")
		}
		break
	}
	return en
}
