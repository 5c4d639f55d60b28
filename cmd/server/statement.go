package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/floraexport/cartera/cartera"
	"github.com/floraexport/cartera/factory"
	"github.com/floraexport/cartera/ledger"
	"github.com/floraexport/cartera/ledger/store"
	"github.com/floraexport/cartera/logger"
)

type statementOptions struct {
	side         string
	counterparty string
	from         string
	to           string
	asOf         string
	lang         string
}

func newStatementCmd() *cobra.Command {
	var opts statementOptions
	cmd := &cobra.Command{
		Use:   "statement FILE",
		Short: "Print a running-balance statement from a JSON export",
		Long: `Reads a batch export (a bare array of records or a document with
"account", "period" and "movements") and prints the statement with its
summary and invoice aging. Nothing is stored.`,
		Example: `  cartera statement export.json
  cartera statement export.json --side payable --counterparty prov-001 --from 2025-01-01 --lang en`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatement(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}
	cmd.Flags().StringVar(&opts.side, "side", "", "receivable or payable (overrides the file)")
	cmd.Flags().StringVar(&opts.counterparty, "counterparty", "", "counterparty id (overrides the file)")
	cmd.Flags().StringVar(&opts.from, "from", "", "first day of the statement")
	cmd.Flags().StringVar(&opts.to, "to", "", "last day of the statement")
	cmd.Flags().StringVar(&opts.asOf, "as-of", "", "aging date (default: end of period or today)")
	cmd.Flags().StringVar(&opts.lang, "lang", "es", "language tag for number formatting")
	return cmd
}

func runStatement(ctx context.Context, out io.Writer, path string, opts statementOptions) error {
	tag, err := language.Parse(opts.lang)
	if err != nil {
		return fmt.Errorf("invalid --lang: %w", err)
	}

	batch, err := readBatchFile(path)
	if err != nil {
		return err
	}

	acc := batch.Account
	if opts.side != "" || opts.counterparty != "" {
		if acc, err = ledger.ParseAccount(opts.side, opts.counterparty); err != nil {
			return err
		}
	}
	if acc.CounterpartyID == "" {
		return fmt.Errorf("%s names no account; pass --side and --counterparty", path)
	}

	query := cartera.StatementQuery{Account: acc, Period: batch.Period}
	for _, f := range []struct {
		raw string
		dst *ledger.Date
	}{{opts.from, &query.Period.Start}, {opts.to, &query.Period.End}, {opts.asOf, &query.AsOf}} {
		if f.raw == "" {
			continue
		}
		d, ok := ledger.ParseDate(f.raw)
		if !ok {
			return fmt.Errorf("unrecognised date %q", f.raw)
		}
		*f.dst = d
	}

	svc := cartera.NewService(store.NewMemory(), cartera.WithLogger(logger.WithComponent("statement")))
	if _, err := svc.Import(ctx, acc, batch.Records); err != nil {
		return err
	}
	st, err := svc.Statement(ctx, query)
	if err != nil {
		return err
	}
	return renderStatement(out, st, tag)
}

func readBatchFile(path string) (*factory.Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return factory.NewBatchFactory().ReadBatch(f)
}

// renderStatement prints a statement as aligned text columns.
func renderStatement(out io.Writer, st *cartera.Statement, tag language.Tag) error {
	amount := newMoneyFormatter(tag).format
	blankZero := func(d decimal.Decimal) string {
		if d.IsZero() {
			return ""
		}
		return amount(d)
	}
	bound := func(d ledger.Date, open string) string {
		if d.IsZero() {
			return open
		}
		return d.String()
	}

	fmt.Fprintf(out, "Account: %s\n", st.Account)
	fmt.Fprintf(out, "Period:  %s .. %s\n\n", bound(st.Period.Start, "beginning"), bound(st.Period.End, "open"))

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "DATE\tKIND\tREFERENCE\tAMOUNT\tCREDITS\tPAYMENT\tBALANCE\t")
	fmt.Fprintf(tw, "\topening\t\t\t\t\t%s\t\n", amount(st.OpeningBalance))
	for _, row := range st.Rows {
		m := row.Movement
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
			m.Date, m.Kind, m.ReferenceNumber,
			blankZero(row.Buckets.Amount), blankZero(row.Buckets.Credits), blankZero(row.Buckets.Payment),
			amount(row.Balance))
	}
	t := st.Summary.Totals
	fmt.Fprintf(tw, "\ttotals\t\t%s\t%s\t%s\t\t\n", amount(t.Amount), amount(t.Credits), amount(t.Payment))
	if err := tw.Flush(); err != nil {
		return err
	}

	tw = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Outstanding balance\t%s\n", amount(st.Summary.OutstandingBalance))
	fmt.Fprintf(tw, "Available credit\t%s\n", amount(st.Summary.TotalAvailableCredit))
	fmt.Fprintf(tw, "Net position\t%s\n", amount(st.Summary.NetPosition))
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "Aging as of %s\t\n", st.Aging.AsOf)
	for _, b := range ledger.AgingBuckets {
		fmt.Fprintf(tw, "  %s\t%s\n", b, amount(st.Aging.Totals[b]))
	}
	fmt.Fprintf(tw, "  total\t%s\n", amount(st.Aging.Total))
	return tw.Flush()
}

// moneyFormatter groups the integer part the locale's way and appends the
// fixed cents of the decimal itself, so no digit goes through a float.
type moneyFormatter struct {
	p       *message.Printer
	decimal string
}

func newMoneyFormatter(tag language.Tag) moneyFormatter {
	p := message.NewPrinter(tag)
	half := p.Sprint(number.Decimal(0.5, number.Scale(1)))
	return moneyFormatter{p: p, decimal: strings.TrimFunc(half, unicode.IsDigit)}
}

func (f moneyFormatter) format(d decimal.Decimal) string {
	fixed := d.Round(ledger.CurrencyPlaces)
	sign := ""
	if fixed.IsNegative() {
		sign = "-"
		fixed = fixed.Neg()
	}
	digits := fixed.StringFixed(ledger.CurrencyPlaces)
	cents := digits[len(digits)-ledger.CurrencyPlaces:]
	return sign + f.p.Sprint(number.Decimal(fixed.IntPart())) + f.decimal + cents
}

func newNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize FILE",
		Short: "Rewrite a JSON export with canonical field names",
		Long: `Normalizes every record (field aliases, kind spellings, locale amounts,
dates) and prints the batch again with canonical keys. Parse problems are
logged; the affected fields come out as zero values.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batch, err := readBatchFile(args[0])
			if err != nil {
				return err
			}
			log := logger.WithComponent("normalize")
			n := ledger.NewNormalizer()
			n.OnIssue = func(pe ledger.ParseError) {
				log.Warn().Int("record", pe.RecordIndex).Str("field", pe.Field).Interface("value", pe.Value).Msg("unparsable field")
			}
			return factory.EncodeBatch(cmd.OutOrStdout(), batch.Account, batch.Period, n.Normalize(batch.Records))
		},
	}
}
