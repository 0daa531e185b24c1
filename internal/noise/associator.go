package noise

import (
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/logging"
)

// MaxGap is the hard upper bound on the time between a recording and its
// empty-room reference.
const MaxGap = 24 * time.Hour

// Outcome tells callers how a result was obtained.
type Outcome int

const (
	// NotFound means no empty-room recording qualified.
	NotFound Outcome = iota
	// FromRecord means a previously stored association was reused.
	FromRecord
	// Searched means a fresh search found a match.
	Searched
)

func (o Outcome) String() string {
	switch o {
	case FromRecord:
		return "from_record"
	case Searched:
		return "searched"
	default:
		return "not_found"
	}
}

// Result is the association of one recording.
type Result struct {
	Outcome Outcome
	// Path is the dataset-relative slash path of the empty-room recording.
	Path  string
	Match *bids.Recording
	// Delta is the absolute time difference; zero for FromRecord results
	// whose reference is not part of the enumerated tree.
	Delta time.Duration
}

// Found reports whether an association exists.
func (r Result) Found() bool { return r.Outcome != NotFound }

// Associator finds the empty-room recording closest in time to a recording.
type Associator struct {
	dataset *bids.Dataset
	maxGap  time.Duration
	logger  *slog.Logger
}

// New creates an associator over an enumerated dataset. maxGap values
// outside (0, 24h] fall back to 24h.
func New(ds *bids.Dataset, maxGap time.Duration, logger *slog.Logger) *Associator {
	if maxGap <= 0 || maxGap > MaxGap {
		maxGap = MaxGap
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Associator{dataset: ds, maxGap: maxGap, logger: logger}
}

// Associate returns the empty-room reference of rec. prior is the stored
// association (dataset-relative), reused unless force is set or it no
// longer resolves.
func (a *Associator) Associate(rec *bids.Recording, prior string, force bool) Result {
	if rec == nil || rec.Noise {
		return Result{}
	}
	if prior != "" && !force {
		if res, ok := a.resolve(rec, prior); ok {
			return res
		}
		a.logger.Debug("stored empty-room association no longer resolves",
			logging.Path(rec.Rel),
			logging.String("prior", prior),
		)
	}
	return a.search(rec)
}

func (a *Associator) resolve(rec *bids.Recording, prior string) (Result, bool) {
	rel := path.Clean(filepath.ToSlash(prior))
	if match := a.dataset.FindRecording(rel); match != nil {
		delta, known := gap(rec, match)
		if known && delta >= a.maxGap {
			return Result{}, false
		}
		return Result{Outcome: FromRecord, Path: match.Rel, Match: match, Delta: delta}, true
	}
	if _, err := os.Stat(filepath.Join(a.dataset.Root, filepath.FromSlash(rel))); err == nil {
		return Result{Outcome: FromRecord, Path: rel}, true
	}
	return Result{}, false
}

type candidate struct {
	rec        *bids.Recording
	delta      time.Duration
	sameFolder bool
}

func (a *Associator) search(rec *bids.Recording) Result {
	target, ok := rec.Acquired()
	if !ok {
		return Result{}
	}
	noiseSubject := a.dataset.Layout.NoiseSubject
	var candidates []candidate
	for _, ref := range a.dataset.NoiseRecordings() {
		same := ref.Session != nil && rec.Session != nil && ref.Session.Dir == rec.Session.Dir
		if !same && ref.Name.Subject != noiseSubject {
			continue
		}
		when, ok := ref.Acquired()
		if !ok {
			continue
		}
		delta := when.Sub(target)
		if delta < 0 {
			delta = -delta
		}
		if delta >= a.maxGap {
			continue
		}
		candidates = append(candidates, candidate{rec: ref, delta: delta, sameFolder: same})
	}
	if len(candidates) == 0 {
		return Result{}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		ci, cj := candidates[i], candidates[j]
		if ci.delta != cj.delta {
			return ci.delta < cj.delta
		}
		if ci.sameFolder != cj.sameFolder {
			return ci.sameFolder
		}
		return ci.rec.Rel < cj.rec.Rel
	})
	best := candidates[0]
	return Result{Outcome: Searched, Path: best.rec.Rel, Match: best.rec, Delta: best.delta}
}

func gap(a, b *bids.Recording) (time.Duration, bool) {
	ta, okA := a.Acquired()
	tb, okB := b.Acquired()
	if !okA || !okB {
		return 0, false
	}
	d := ta.Sub(tb)
	if d < 0 {
		d = -d
	}
	return d, true
}
