package jobs

import (
	"fmt"

	"cardbatch/internal/aggregate"
	"cardbatch/internal/checkpoint"
	"cardbatch/internal/fixedwidth"
	"cardbatch/internal/job"
	"cardbatch/internal/report"
)

// RefundSchema is the 120-byte outstanding refund card
var RefundSchema = fixedwidth.MustSchema("refund", 120,
	fixedwidth.Field{Name: "refund_type", Start: 1, End: 3, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "account", Start: 4, End: 13, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "receipt_type", Start: 14, End: 16, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "receipt_date", Start: 17, End: 24, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "amount", Start: 25, End: 36, Kind: fixedwidth.Packed, Scale: 2},
	fixedwidth.Field{Name: "payee", Start: 37, End: 66, Kind: fixedwidth.Text},
)

var refundControl = fixedwidth.MustSchema("refund-control", 80,
	fixedwidth.Field{Name: "frequency", Start: 1, End: 1, Kind: fixedwidth.Text},
	fixedwidth.Field{Name: "as_of", Start: 2, End: 9, Kind: fixedwidth.Zoned, Sign: fixedwidth.SignNone},
	fixedwidth.Field{Name: "company", Start: 10, End: 12, Kind: fixedwidth.Text},
)

var receiptCategories = map[string]string{
	"CHK": "CHECK",
	"EFT": "EFT",
	"CRD": "CARD",
	"LBX": "LOCKBOX",
}

var monthlyAging = aggregate.MustAgingScheme(
	aggregate.Window{Label: "CURRENT MONTH", Months: 1},
	aggregate.Window{Label: "1-2 MONTHS", Months: 2},
	aggregate.Window{Label: "2-3 MONTHS", Months: 3},
	aggregate.Window{Label: "3-6 MONTHS", Months: 6},
	aggregate.Window{Label: "OVER 6 MONTHS", Open: true},
)

func refundAging() *job.Definition {
	return &job.Definition{
		Name:        "refund-aging",
		Description: "Outstanding refunds aged by receipt date, by refund type and account",
		Schema:      RefundSchema,
		Key: checkpoint.KeyLayout{Name: "refund", Parts: []checkpoint.KeyPart{
			{Field: "refund_type", Width: 3},
			{Field: "account", Width: 10, Numeric: true},
		}},
		Levels: []string{"type", "account"},
		Aging:  aggregate.DefaultAging(),
		Entry:  refundEntry,
		Detail: refundDetail,
		Report: report.Layout{
			ReportID: "RFD0100",
			Title:    "OUTSTANDING REFUND AGING REPORT",
			Columns: []string{
				"TYP ACCOUNT    RCT RECEIPT DT PAYEE                                   AMOUNT",
			},
		},
		Control: job.ControlCard{
			Schema:         refundControl,
			Required:       []string{"frequency", "as_of", "company"},
			Codes:          map[string][]string{"frequency": {"W", "M"}},
			FrequencyField: "frequency",
			AsOfField:      "as_of",
		},
		Branches: map[string]job.Branch{
			"W": {Name: "weekly", ReportID: "RFD0100W", Title: "WEEKLY OUTSTANDING REFUND AGING REPORT"},
			"M": {Name: "monthly", ReportID: "RFD0100M", Title: "MONTHLY OUTSTANDING REFUND AGING REPORT", Aging: monthlyAging},
		},
		Extract: &job.ExtractSpec{Level: 1},
	}
}

func refundEntry(rec fixedwidth.Record) (aggregate.Entry, error) {
	date, err := rec.Date("receipt_date")
	if err != nil {
		return aggregate.Entry{}, err
	}

	category, ok := receiptCategories[rec.Text("receipt_type")]
	if !ok {
		category = "OTHER"
	}

	return aggregate.Entry{
		Keys:     []string{rec.Text("refund_type"), fmt.Sprintf("%010d", rec.Int("account"))},
		Category: category,
		Date:     date,
		Amount:   rec.Decimal("amount"),
	}, nil
}

func refundDetail(rec fixedwidth.Record, e aggregate.Entry) string {
	return fmt.Sprintf("%-3s %s %-3s %s %s %s",
		e.Keys[0],
		e.Keys[1],
		rec.Text("receipt_type"),
		e.Date.Format("2006-01-02"),
		fixedwidth.PadRight(rec.Text("payee"), 30),
		fixedwidth.EditAmount(e.Amount, 16, 2),
	)
}
