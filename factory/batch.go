/*
Package factory turns JSON batches from the source system into normalizer input.

PURPOSE:
  Exports arrive as JSON: either a bare array of movement records or a
  document that also names the account and the statement window. The factory
  decodes both shapes, keeps numbers exact (json.Number) so amounts never pass
  through float64, and leaves field interpretation to ledger.Normalizer.

JSON SCHEMA:
  {
    "account": {"side": "receivable", "counterparty": "cli-001"},
    "period":  {"from": "2025-01-01", "to": "2025-03-31"},
    "movements": [
      {"idMovimiento": "F1", "tipoDocumento": "FACTURA", "fecha": "05/01/2025", "valorTotal": "1.500,00"},
      {"id": "A1", "kind": "prepayment", "date": "2024-12-20", "grossAmount": 1000}
    ]
  }

USAGE:
  f := factory.NewBatchFactory()
  batch, err := f.ReadBatch(file)
  movements := ledger.NewNormalizer().Normalize(batch.Records)

SEE ALSO:
  - ledger/normalize.go: field aliases and locale-aware parsing
*/
package factory

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/floraexport/cartera/ledger"
)

// DefaultMaxRecords caps a single batch.
const DefaultMaxRecords = 10000

// ErrInvalidBatch wraps every decoding and validation failure.
var ErrInvalidBatch = errors.New("invalid batch")

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// BatchJSON is the document form of a batch.
type BatchJSON struct {
	Account   *AccountJSON         `json:"account,omitempty"`
	Period    *PeriodJSON          `json:"period,omitempty"`
	Movements []ledger.RawMovement `json:"movements"`
}

type AccountJSON struct {
	Side         string `json:"side"`
	Counterparty string `json:"counterparty"`
}

type PeriodJSON struct {
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Batch is a decoded batch. Account is zero when the input did not name one.
type Batch struct {
	Account ledger.Account
	Period  ledger.Period
	Records []ledger.RawMovement
}

// HasAccount reports whether the batch named its account.
func (b *Batch) HasAccount() bool {
	return b.Account.CounterpartyID != ""
}

// =============================================================================
// FACTORY
// =============================================================================

// BatchFactory decodes batches.
type BatchFactory struct {
	MaxRecords int
}

func NewBatchFactory() *BatchFactory {
	return &BatchFactory{MaxRecords: DefaultMaxRecords}
}

// ReadBatch decodes a batch from r.
func (f *BatchFactory) ReadBatch(r io.Reader) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return f.ParseBatch(data)
}

// ParseBatch accepts either a bare array of records or a BatchJSON document.
func (f *BatchFactory) ParseBatch(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrInvalidBatch)
	}

	var doc BatchJSON
	if data[0] == '[' {
		if err := decodeStrict(data, &doc.Movements); err != nil {
			return nil, err
		}
	} else if err := decodeStrict(data, &doc); err != nil {
		return nil, err
	}
	return f.build(doc)
}

func (f *BatchFactory) build(doc BatchJSON) (*Batch, error) {
	if f.MaxRecords > 0 && len(doc.Movements) > f.MaxRecords {
		return nil, fmt.Errorf("%w: %d records, at most %d allowed", ErrInvalidBatch, len(doc.Movements), f.MaxRecords)
	}
	for i, rec := range doc.Movements {
		if rec == nil {
			return nil, fmt.Errorf("%w: record %d is not an object", ErrInvalidBatch, i)
		}
	}

	batch := &Batch{Records: doc.Movements}
	if batch.Records == nil {
		batch.Records = []ledger.RawMovement{}
	}

	if doc.Account != nil {
		acc, err := ledger.ParseAccount(doc.Account.Side, doc.Account.Counterparty)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
		}
		batch.Account = acc
	}

	if doc.Period != nil {
		p, err := parsePeriod(*doc.Period)
		if err != nil {
			return nil, err
		}
		batch.Period = p
	}
	return batch, nil
}

func parsePeriod(pj PeriodJSON) (ledger.Period, error) {
	var p ledger.Period
	for _, bound := range []struct {
		raw string
		dst *ledger.Date
	}{{pj.From, &p.Start}, {pj.To, &p.End}} {
		if bound.raw == "" {
			continue
		}
		d, ok := ledger.ParseDate(bound.raw)
		if !ok {
			return ledger.Period{}, fmt.Errorf("%w: bad period date %q", ErrInvalidBatch, bound.raw)
		}
		*bound.dst = d
	}
	if err := p.Validate(); err != nil {
		return ledger.Period{}, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	return p, nil
}

// decodeStrict keeps numbers as json.Number and rejects trailing data.
func decodeStrict(data []byte, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: trailing data after batch", ErrInvalidBatch)
	}
	return nil
}

// =============================================================================
// ENCODING
// =============================================================================

// EncodeBatch writes movements as a document ParseBatch reads back, using the
// canonical field names.
func EncodeBatch(w io.Writer, account ledger.Account, period ledger.Period, movements []ledger.Movement) error {
	doc := BatchJSON{Movements: make([]ledger.RawMovement, 0, len(movements))}
	if account.CounterpartyID != "" {
		doc.Account = &AccountJSON{Side: string(account.Side), Counterparty: string(account.CounterpartyID)}
	}
	if !period.Start.IsZero() || !period.End.IsZero() {
		doc.Period = &PeriodJSON{}
		if !period.Start.IsZero() {
			doc.Period.From = period.Start.String()
		}
		if !period.End.IsZero() {
			doc.Period.To = period.End.String()
		}
	}
	for _, m := range movements {
		doc.Movements = append(doc.Movements, m.ToRaw())
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
