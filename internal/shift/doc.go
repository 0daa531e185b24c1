// Package shift anonymizes acquisition dates.
//
// Every subject is moved by a constant whole number of days so that its
// earliest plausible scan lands on the configured target epoch. The shift
// is recorded once in a ledger (a tab-separated file with a one-time JSON
// column description) and never recomputed. Real times are kept in a copy
// of each scan index under sourcedata, taken before the session is first
// shifted, so every later pass recomputes rows as real time plus shift and
// a repeated pass writes nothing.
package shift
