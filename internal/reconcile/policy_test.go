package reconcile

import (
	"testing"

	"github.com/Moo-Marc/CtfMegBids/internal/bids"
	"github.com/Moo-Marc/CtfMegBids/internal/config"
	"github.com/Moo-Marc/CtfMegBids/internal/report"
)

func TestPolicyNormalize(t *testing.T) {
	cfg := config.Default()
	policy := PolicyFromConfig(&cfg)

	cases := []struct {
		name  string
		in    bids.Name
		want  bids.Name
		codes []string
	}{
		{
			name: "canonical rest untouched",
			in:   bids.Name{Subject: "01", Session: "01", Task: "rest", Suffix: "meg"},
			want: bids.Name{Subject: "01", Session: "01", Task: "rest", Suffix: "meg"},
		},
		{
			name:  "longest synonym wins",
			in:    bids.Name{Subject: "01", Session: "01", Task: "restingstate", Suffix: "meg"},
			want:  bids.Name{Subject: "01", Session: "01", Task: "rest", Suffix: "meg"},
			codes: []string{report.CodeNonStandardTask},
		},
		{
			name:  "synonym prefix keeps remainder",
			in:    bids.Name{Subject: "01", Session: "01", Task: "RestingEO", Suffix: "meg"},
			want:  bids.Name{Subject: "01", Session: "01", Task: "restEO", Suffix: "meg"},
			codes: []string{report.CodeNonStandardTask},
		},
		{
			name:  "noise subject forces noise task",
			in:    bids.Name{Subject: "emptyroom", Session: "20210301", Task: "empty", Suffix: "meg"},
			want:  bids.Name{Subject: "emptyroom", Session: "20210301", Task: "noise", Suffix: "meg"},
			codes: []string{report.CodeNonStandardTask},
		},
		{
			name:  "noise synonym in a subject session",
			in:    bids.Name{Subject: "01", Session: "01", Task: "EmptyRoom", Suffix: "meg"},
			want:  bids.Name{Subject: "01", Session: "01", Task: "noise", Suffix: "meg"},
			codes: []string{report.CodeNonStandardTask},
		},
		{
			name: "allowed acquisition kept",
			in:   bids.Name{Subject: "01", Session: "01", Task: "motor", Acquisition: "AUX", Suffix: "meg"},
			want: bids.Name{Subject: "01", Session: "01", Task: "motor", Acquisition: "AUX", Suffix: "meg"},
		},
		{
			name:  "other acquisition cleared",
			in:    bids.Name{Subject: "01", Session: "01", Task: "motor", Acquisition: "hf", Run: "2", Suffix: "meg"},
			want:  bids.Name{Subject: "01", Session: "01", Task: "motor", Run: "2", Suffix: "meg"},
			codes: []string{report.CodeAcquisition},
		},
		{
			name: "unrelated task untouched",
			in:   bids.Name{Subject: "01", Session: "01", Task: "motor", Suffix: "meg"},
			want: bids.Name{Subject: "01", Session: "01", Task: "motor", Suffix: "meg"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, findings := policy.Normalize(tc.in)
			if got != tc.want {
				t.Fatalf("Normalize = %+v, want %+v", got, tc.want)
			}
			if len(findings) != len(tc.codes) {
				t.Fatalf("findings = %+v, want codes %v", findings, tc.codes)
			}
			for i, f := range findings {
				if f.Code != tc.codes[i] {
					t.Fatalf("finding %d code = %s, want %s", i, f.Code, tc.codes[i])
				}
			}
		})
	}
}

func TestPolicyAndLayoutAgreeOnNoise(t *testing.T) {
	cfg := config.Default()
	cfg.Dataset.NoiseSynonyms = append(cfg.Dataset.NoiseSynonyms, "grosse")
	policy := PolicyFromConfig(&cfg)
	layout := bids.LayoutFromConfig(&cfg)

	for task, want := range map[string]bool{
		"noise":     true,
		"NOISE":     true,
		"EmptyRoom": true,
		"große":     true,
		"rest":      false,
	} {
		n := bids.Name{Subject: "01", Session: "01", Task: task, Suffix: "meg"}
		if got := policy.IsNoise(n); got != want {
			t.Errorf("%s: policy IsNoise = %v, want %v", task, got, want)
		}
		if got := layout.IsNoise(n); got != want {
			t.Errorf("%s: layout IsNoise = %v, want %v", task, got, want)
		}
	}
}
