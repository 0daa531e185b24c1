package reconcile

import (
	"fmt"
	"sort"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

// Policy holds the naming conventions applied to every recording.
type Policy struct {
	NoiseSubject       string
	NoiseTask          string
	NoiseSynonyms      []string
	RestTask           string
	RestSynonyms       []string
	AllowedAcquisition string
}

// Finding is one naming-policy deviation.
type Finding struct {
	Code string
	Text string
}

// PolicyFromConfig builds the policy of a configuration.
func PolicyFromConfig(cfg *config.Config) Policy {
	return Policy{
		NoiseSubject:       cfg.Dataset.NoiseSubject,
		NoiseTask:          cfg.Dataset.NoiseTask,
		NoiseSynonyms:      append([]string(nil), cfg.Dataset.NoiseSynonyms...),
		RestTask:           cfg.Dataset.RestTask,
		RestSynonyms:       append([]string(nil), cfg.Dataset.RestSynonyms...),
		AllowedAcquisition: cfg.Dataset.AllowedAcquisition,
	}
}

// IsNoise reports whether a name marks an empty-room recording. It applies
// the same rule as the dataset layout.
func (p Policy) IsNoise(n bids.Name) bool {
	return bids.Layout{NoiseSubject: p.NoiseSubject, NoiseTask: p.NoiseTask, NoiseSynonyms: p.NoiseSynonyms}.IsNoise(n)
}

// restSynonyms returns the synonyms longest first so "restingstate" is
// replaced whole rather than as "rest" + "ingstate".
func (p Policy) restSynonyms() []string {
	out := append([]string(nil), p.RestSynonyms...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// Normalize applies the naming conventions and returns the canonical name
// with one finding per deviation.
func (p Policy) Normalize(n bids.Name) (bids.Name, []Finding) {
	var findings []Finding
	out := n

	if p.IsNoise(n) {
		if n.Task != p.NoiseTask {
			out.Task = p.NoiseTask
			findings = append(findings, Finding{
				Code: report.CodeNonStandardTask,
				Text: fmt.Sprintf("empty-room task %q should be %q", n.Task, p.NoiseTask),
			})
		}
	} else if task, ok := p.normalizeRest(n.Task); ok && task != n.Task {
		out.Task = task
		findings = append(findings, Finding{
			Code: report.CodeNonStandardTask,
			Text: fmt.Sprintf("resting-state task %q should be %q", n.Task, task),
		})
	}

	if n.Acquisition != "" && n.Acquisition != p.AllowedAcquisition {
		out.Acquisition = ""
		findings = append(findings, Finding{
			Code: report.CodeAcquisition,
			Text: fmt.Sprintf("acquisition %q is not allowed (only %q)", n.Acquisition, p.AllowedAcquisition),
		})
	}
	return out, findings
}

func (p Policy) normalizeRest(task string) (string, bool) {
	folded := bids.Fold(task)
	if len(folded) != len(task) {
		return task, false
	}
	for _, syn := range p.restSynonyms() {
		fs := bids.Fold(syn)
		if fs == "" || len(folded) < len(fs) || folded[:len(fs)] != fs {
			continue
		}
		return p.RestTask + task[len(fs):], true
	}
	return task, false
}
