package ledger

import "github.com/shopspring/decimal"

// AgingBucket is a days-past-invoice-date band.
type AgingBucket string

const (
	AgingCurrent AgingBucket = "current"
	Aging1To30   AgingBucket = "1_30"
	Aging31To60  AgingBucket = "31_60"
	Aging61To90  AgingBucket = "61_90"
	AgingOver90  AgingBucket = "over_90"
)

// AgingBuckets lists the bands in display order.
var AgingBuckets = []AgingBucket{AgingCurrent, Aging1To30, Aging31To60, Aging61To90, AgingOver90}

// BucketForDays places an age in days. Zero or negative age is current.
func BucketForDays(days int) AgingBucket {
	switch {
	case days <= 0:
		return AgingCurrent
	case days <= 30:
		return Aging1To30
	case days <= 60:
		return Aging31To60
	case days <= 90:
		return Aging61To90
	default:
		return AgingOver90
	}
}

// AgedInvoice is one open invoice with its age at the report date.
type AgedInvoice struct {
	Invoice InvoiceBalance
	Days    int
	Bucket  AgingBucket
}

// AgingReport groups open invoice balances by age.
type AgingReport struct {
	AsOf     Date
	Totals   map[AgingBucket]decimal.Decimal
	Total    decimal.Decimal
	Invoices []AgedInvoice
}

// AgeInvoices buckets every invoice with a positive balance by the number of
// days between its invoice date and asOf.
func AgeInvoices(invoices []InvoiceBalance, asOf Date) AgingReport {
	report := AgingReport{
		AsOf:   asOf,
		Totals: make(map[AgingBucket]decimal.Decimal, len(AgingBuckets)),
		Total:  decimal.Zero,
	}
	for _, b := range AgingBuckets {
		report.Totals[b] = decimal.Zero
	}

	for _, inv := range invoices {
		if !inv.CurrentBalance.IsPositive() {
			continue
		}
		days := DaysBetween(inv.InvoiceDate, asOf)
		bucket := BucketForDays(days)
		report.Invoices = append(report.Invoices, AgedInvoice{Invoice: inv, Days: days, Bucket: bucket})
		report.Totals[bucket] = report.Totals[bucket].Add(inv.CurrentBalance)
		report.Total = report.Total.Add(inv.CurrentBalance)
	}
	return report
}
