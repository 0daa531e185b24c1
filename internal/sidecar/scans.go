package sidecar

import (
	"errors"
	"os"
	"sort"
	"time"
)

const (
	scanFilenameColumn = "filename"
	scanTimeColumn     = "acq_time"
)

// ScanRow is one scan-index row. Extra holds any additional columns in
// header order.
type ScanRow struct {
	Filename string
	AcqTime  string
	Extra    []string
}

// Time returns the parsed acquisition time, false when unknown.
func (r ScanRow) Time() (time.Time, bool) {
	return ParseTime(r.AcqTime)
}

// FormatScanTime renders a scan-index timestamp, n/a when unknown.
func FormatScanTime(t time.Time, known bool) string {
	if !known || t.IsZero() {
		return NotAvailable
	}
	return t.Format(TimeLayout)
}

// ScanIndex is the per-session table of recordings and their acquisition
// times.
type ScanIndex struct {
	extraHeader []string
	Rows        []ScanRow
}

// NewScanIndex returns an empty index.
func NewScanIndex() *ScanIndex { return &ScanIndex{} }

// DecodeScanIndex parses scan-index content.
func DecodeScanIndex(data []byte) (*ScanIndex, error) {
	t, err := DecodeTable(data)
	if err != nil {
		return nil, err
	}
	return scanIndexFromTable(t)
}

func scanIndexFromTable(t *Table) (*ScanIndex, error) {
	fc := t.Column(scanFilenameColumn)
	if fc < 0 {
		return nil, errors.New("scan index has no filename column")
	}
	tc := t.Column(scanTimeColumn)
	idx := &ScanIndex{}
	var extraCols []int
	for i, h := range t.Header {
		if i != fc && i != tc {
			idx.extraHeader = append(idx.extraHeader, h)
			extraCols = append(extraCols, i)
		}
	}
	for _, row := range t.Rows {
		sr := ScanRow{Filename: row[fc], AcqTime: NotAvailable}
		if tc >= 0 && row[tc] != "" {
			sr.AcqTime = row[tc]
		}
		for _, c := range extraCols {
			sr.Extra = append(sr.Extra, row[c])
		}
		idx.Rows = append(idx.Rows, sr)
	}
	return idx, nil
}

// LoadScanIndex reads a scan index. A missing file yields an empty index
// and exists=false.
func LoadScanIndex(path string) (*ScanIndex, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewScanIndex(), false, nil
		}
		return nil, false, err
	}
	idx, err := DecodeScanIndex(data)
	if err != nil {
		return nil, true, err
	}
	return idx, true, nil
}

// Find returns the row index for filename or -1.
func (s *ScanIndex) Find(filename string) int {
	for i, r := range s.Rows {
		if r.Filename == filename {
			return i
		}
	}
	return -1
}

// Upsert adds a row or, when overwrite is set, updates the time of an
// existing one. It reports whether the index changed.
func (s *ScanIndex) Upsert(filename, acqTime string, overwrite bool) bool {
	if i := s.Find(filename); i >= 0 {
		if !overwrite || s.Rows[i].AcqTime == acqTime {
			return false
		}
		s.Rows[i].AcqTime = acqTime
		return true
	}
	row := ScanRow{Filename: filename, AcqTime: acqTime}
	for range s.extraHeader {
		row.Extra = append(row.Extra, NotAvailable)
	}
	s.Rows = append(s.Rows, row)
	return true
}

// Rename moves a row to a new filename, keeping its time and extra columns.
func (s *ScanIndex) Rename(oldName, newName string) bool {
	i := s.Find(oldName)
	if i < 0 {
		return false
	}
	s.Rows[i].Filename = newName
	return true
}

// Remove deletes and returns the row for filename.
func (s *ScanIndex) Remove(filename string) (ScanRow, bool) {
	i := s.Find(filename)
	if i < 0 {
		return ScanRow{}, false
	}
	row := s.Rows[i]
	s.Rows = append(s.Rows[:i], s.Rows[i+1:]...)
	return row, true
}

// Insert adds a row taken from another index, aligning extra columns by name.
func (s *ScanIndex) Insert(row ScanRow, from *ScanIndex) {
	out := ScanRow{Filename: row.Filename, AcqTime: row.AcqTime}
	if from != nil {
		for _, name := range from.extraHeader {
			if !containsString(s.extraHeader, name) {
				s.extraHeader = append(s.extraHeader, name)
				for i := range s.Rows {
					s.Rows[i].Extra = append(s.Rows[i].Extra, NotAvailable)
				}
			}
		}
	}
	for _, name := range s.extraHeader {
		value := NotAvailable
		if from != nil {
			for j, fromName := range from.extraHeader {
				if fromName == name && j < len(row.Extra) {
					value = row.Extra[j]
				}
			}
		}
		out.Extra = append(out.Extra, value)
	}
	s.Rows = append(s.Rows, out)
}

// Earliest returns the earliest known acquisition time and its row, skipping
// rows rejected by accept.
func (s *ScanIndex) Earliest(accept func(ScanRow, time.Time) bool) (ScanRow, time.Time, bool) {
	var best ScanRow
	var bestTime time.Time
	found := false
	for _, r := range s.Rows {
		t, ok := r.Time()
		if !ok || (accept != nil && !accept(r, t)) {
			continue
		}
		if !found || t.Before(bestTime) || (t.Equal(bestTime) && r.Filename < best.Filename) {
			best, bestTime, found = r, t, true
		}
	}
	return best, bestTime, found
}

// Sort orders rows by known timestamps ascending, unknown last, then filename.
func (s *ScanIndex) Sort() {
	sort.SliceStable(s.Rows, func(i, j int) bool {
		ti, iok := s.Rows[i].Time()
		tj, jok := s.Rows[j].Time()
		switch {
		case iok && jok && !ti.Equal(tj):
			return ti.Before(tj)
		case iok != jok:
			return iok
		}
		return s.Rows[i].Filename < s.Rows[j].Filename
	})
}

// Encode sorts the rows and renders the index.
func (s *ScanIndex) Encode() []byte {
	s.Sort()
	t := NewTable(append([]string{scanFilenameColumn, scanTimeColumn}, s.extraHeader...)...)
	for _, r := range s.Rows {
		row := append([]string{r.Filename, r.AcqTime}, r.Extra...)
		for len(row) < len(t.Header) {
			row = append(row, NotAvailable)
		}
		t.Rows = append(t.Rows, row)
	}
	return t.Encode()
}

// Clone deep-copies the index.
func (s *ScanIndex) Clone() *ScanIndex {
	out := &ScanIndex{extraHeader: append([]string(nil), s.extraHeader...)}
	for _, r := range s.Rows {
		r.Extra = append([]string(nil), r.Extra...)
		out.Rows = append(out.Rows, r)
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
