package jobs

import (
	"fmt"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/fixedwidth"
	"cardbatch/internal/job"
	"cardbatch/internal/report"
)

// GLSchema is the 80-byte general-ledger posting card. Amounts are
// overpunched zoned decimals.
var GLSchema = fixedwidth.MustSchema("gl-posting", 80,
	fixedwidth.Field{Name: "company", Start: 1, End: 3, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "gl_account", Start: 4, End: 11, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "dc", Start: 12, End: 12, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "posting_date", Start: 13, End: 20, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "amount", Start: 21, End: 33, Kind: fixedwidth.Zoned, Scale: 2},
	fixedwidth.Field{Name: "reference", Start: 34, End: 49, Kind: fixedwidth.Text},
)

var glControl = fixedwidth.MustSchema("gl-control", 80,
	fixedwidth.Field{Name: "as_of", Start: 1, End: 8, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "ledger", Start: 9, End: 10, Kind: fixedwidth.Text},
)

func glPostings() *job.Definition {
	return &job.Definition{
		Name:        "gl-postings",
		Description: "General-ledger postings by company and GL account, debits and credits aged by posting date",
		Schema:      GLSchema,
		Key: checkpoint.KeyLayout{Name: "gl", Parts: []checkpoint.KeyPart{
			{Field: "company", Width: 3},
			{Field: "gl_account", Width: 8},
		}},
		Levels: []string{"company", "gl account"},
		Aging:  aggregate.DefaultAging(),
		Entry:  glEntry,
		Detail: glDetail,
		Report: report.Layout{
			ReportID: "GLP0200",
			Title:    "GENERAL LEDGER POSTING SUMMARY",
			Columns: []string{
				"CMP GL ACCT  D/C POSTED     REFERENCE                  AMOUNT",
			},
		},
		Control: job.ControlCard{
			Schema:    glControl,
			Required:  []string{"as_of", "ledger"},
			Codes:     map[string][]string{"ledger": {"GL", "SL"}},
			AsOfField: "as_of",
		},
		Extract: &job.ExtractSpec{Level: 1},
	}
}

func glEntry(rec fixedwidth.Record) (aggregate.Entry, error) {
	date, err := rec.Date("posting_date")
	if err != nil {
		return aggregate.Entry{}, err
	}

	var category string
	switch rec.Text("dc") {
	case "D":
		category = "DEBIT"
	case "C":
		category = "CREDIT"
	default:
		return aggregate.Entry{}, &fixedwidth.FieldError{
			Schema: GLSchema.Name(),
			Field:  "dc",
			Column: 12,
			Value:  rec.Text("dc"),
			Reason: "debit/credit flag must be D or C",
		}
	}

	return aggregate.Entry{
		Keys:     []string{rec.Text("company"), rec.Text("gl_account")},
		Category: category,
		Date:     date,
		Amount:   rec.Decimal("amount"),
	}, nil
}

func glDetail(rec fixedwidth.Record, _ aggregate.Entry) string {
	return fmt.Sprintf("%-3s %-8s %s %s %s %s",
		rec.Text("company"),
		rec.Text("gl_account"),
		rec.Text("dc"),
		rec.Text("posting_date"),
		fixedwidth.PadRight(rec.Text("reference"), 16),
		fixedwidth.EditAmount(rec.Decimal("amount"), 16, 2),
	)
}
