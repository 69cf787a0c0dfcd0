package indexing

import (
	"encoding/json"
	"io"
	"strings"
	"unicode/utf8"

	"ragmerge/internal/domain"
	"ragmerge/internal/fsutil"
	"ragmerge/internal/hasher"
)

const DefaultMinTextLength = 10

// ReportRow is one row listed in the quality report.
type ReportRow struct {
	Text   string `json:"text"`
	Source string `json:"source,omitempty"`
	Hash   string `json:"hash"`
}

// RowGroup counts and lists the rows dropped for one reason.
type RowGroup struct {
	Count int         `json:"count"`
	Data  []ReportRow `json:"data"`
}

// QualityReport describes what the quality filter removed from a batch.
type QualityReport struct {
	EmptyDocs      RowGroup `json:"empty_docs"`
	DuplicateTexts RowGroup `json:"duplicate_texts"`
	ShortTexts     RowGroup `json:"short_texts"`
	RemainingDocs  int      `json:"remaining_docs"`
	RemovedDocs    int      `json:"removed_docs"`
}

func (g *RowGroup) add(r domain.Row, hash string) {
	g.Count++
	g.Data = append(g.Data, ReportRow{Text: r.Text, Source: r.Source, Hash: hash})
}

// CheckQuality trims every row and drops, in order, empty rows, rows shorter
// than minLen runes and rows whose hash repeats an earlier kept row.
// Each dropped row is reported under exactly one reason.
func CheckQuality(rows []domain.Row, minLen int) (QualityReport, []domain.Row) {
	report := QualityReport{
		EmptyDocs:      RowGroup{Data: []ReportRow{}},
		DuplicateTexts: RowGroup{Data: []ReportRow{}},
		ShortTexts:     RowGroup{Data: []ReportRow{}},
	}
	seen := make(map[string]struct{}, len(rows))
	kept := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		r.Text = strings.TrimSpace(r.Text)
		h := hasher.Hash(r.Text)
		switch {
		case r.Text == "":
			report.EmptyDocs.add(r, h)
		case utf8.RuneCountInString(r.Text) < minLen:
			report.ShortTexts.add(r, h)
		default:
			if _, dup := seen[h]; dup {
				report.DuplicateTexts.add(r, h)
				continue
			}
			seen[h] = struct{}{}
			kept = append(kept, r)
		}
	}
	report.RemainingDocs = len(kept)
	report.RemovedDocs = len(rows) - len(kept)
	return report, kept
}

// WriteReport stores the report as indented JSON.
func WriteReport(path string, report QualityReport) error {
	return fsutil.WriteAtomic(path, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	})
}
