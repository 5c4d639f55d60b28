/*
normalize.go - Raw record → Movement

PURPOSE:
  The backend returns movement rows whose field names drifted over the years
  (valorTotal vs valor, tipoDocumento vs tipo, ...). The normalizer turns a
  batch of such rows into Movements with exactly one Kind each and clean
  decimal amounts.

FIELD ALIASES:
  Every field has an explicit, ordered list of keys. The FIRST populated key
  wins; fallbacks are never summed. Keeping the lists in one struct makes the
  mapping auditable and lets callers extend it without touching the picker.

NUMBERS:
  Amounts are parsed locale-aware:
    "1.234,56"  → 1234.56   (dot thousands, comma decimal)
    "1,234.56"  → 1234.56   (comma thousands, dot decimal)
    "1234,5"    → 1234.50
    " $ 1 200 " → 1200.00
  When both separators appear the LAST one is the decimal separator; a
  separator repeated without the other is a thousands separator.
  Unparsable values become 0 and a ParseError is reported, never returned.

IDEMPOTENCE:
  Movement.ToRaw() emits the canonical keys, which come first in every alias
  list, so Normalize(ToRaw(Normalize(x))) == Normalize(x).

SEE ALSO:
  - kinds.go: Kind alias registry
  - time.go: ParseDate layouts
*/
package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// RawMovement is one record as delivered by the source system.
type RawMovement map[string]any

// =============================================================================
// FIELD ALIASES
// =============================================================================

// FieldAliases lists, per field, the keys to try in priority order.
type FieldAliases struct {
	ID        []string
	Kind      []string
	Date      []string
	Amount    []string
	Consumed  []string
	Label     []string
	Reference []string
	Notes     []string
	Editable  []string
}

// Canonical keys written by ToRaw. Each is first in its alias list.
const (
	KeyID        = "id"
	KeyKind      = "kind"
	KeyDate      = "date"
	KeyAmount    = "grossAmount"
	KeyConsumed  = "amountConsumed"
	KeyLabel     = "counterpartyLabel"
	KeyReference = "referenceNumber"
	KeyNotes     = "notes"
	KeyEditable  = "editable"
)

// DefaultAliases is the mapping observed in the source system.
var DefaultAliases = FieldAliases{
	ID:        []string{KeyID, "idMovimiento", "id_movimiento"},
	Kind:      []string{KeyKind, "tipoDocumento", "tipo_documento", "tipo"},
	Date:      []string{KeyDate, "fecha", "fechaEmision", "fecha_emision"},
	Amount:    []string{KeyAmount, "valorTotal", "valor_total", "valor", "monto"},
	Consumed:  []string{KeyConsumed, "valorUtilizado", "valor_utilizado", "utilizado"},
	Label:     []string{KeyLabel, "marca", "subcliente", "cliente"},
	Reference: []string{KeyReference, "numeroFactura", "numero_factura", "numero"},
	Notes:     []string{KeyNotes, "observaciones", "nota"},
	Editable:  []string{KeyEditable, "esEditable", "es_editable"},
}

// =============================================================================
// NORMALIZER
// =============================================================================

type Normalizer struct {
	Aliases FieldAliases

	// OnIssue, when set, receives every recovered parse problem.
	OnIssue func(ParseError)
}

func NewNormalizer() *Normalizer {
	return &Normalizer{Aliases: DefaultAliases}
}

// Normalize converts a batch. It never fails; bad fields are zero-filled.
func (n *Normalizer) Normalize(raws []RawMovement) []Movement {
	out := make([]Movement, 0, len(raws))
	for i, raw := range raws {
		out = append(out, n.NormalizeOne(i, raw))
	}
	return out
}

// NormalizeOne converts a single record; index is only used for reporting.
func (n *Normalizer) NormalizeOne(index int, raw RawMovement) Movement {
	var m Movement

	if v, _, ok := pick(raw, n.Aliases.ID); ok {
		m.ID = MovementID(stringify(v))
	}

	if v, _, ok := pick(raw, n.Aliases.Kind); ok {
		m.Kind = LookupKind(stringify(v))
	} else {
		n.report(index, "kind", nil)
	}

	if v, key, ok := pick(raw, n.Aliases.Date); ok {
		d, parsed := parseDateValue(v)
		if !parsed {
			n.report(index, key, v)
		}
		m.Date = d
	}

	if v, key, ok := pick(raw, n.Aliases.Amount); ok {
		amt, parsed := ParseAmount(v)
		if !parsed {
			n.report(index, key, v)
		}
		m.GrossAmount = amt
	} else {
		m.GrossAmount = decimal.Zero
	}

	if v, key, ok := pick(raw, n.Aliases.Consumed); ok {
		amt, parsed := ParseAmount(v)
		if !parsed {
			n.report(index, key, v)
		}
		m.AmountConsumed = amt
	}

	if v, _, ok := pick(raw, n.Aliases.Label); ok {
		m.CounterpartyLabel = stringify(v)
	}
	if v, _, ok := pick(raw, n.Aliases.Reference); ok {
		m.ReferenceNumber = stringify(v)
	}
	if v, _, ok := pick(raw, n.Aliases.Notes); ok {
		m.Notes = stringify(v)
	}
	if v, key, ok := pick(raw, n.Aliases.Editable); ok {
		b, parsed := parseBool(v)
		if !parsed {
			n.report(index, key, v)
		}
		m.Editable = b
	}

	return m
}

// NormalizeCredits reads a batch of records as prepayment credits,
// whatever kind they declare.
func (n *Normalizer) NormalizeCredits(raws []RawMovement) []PrepaymentCredit {
	out := make([]PrepaymentCredit, 0, len(raws))
	for i, raw := range raws {
		out = append(out, DerivedCredit(n.NormalizeOne(i, raw)))
	}
	return out
}

func (n *Normalizer) report(index int, field string, value any) {
	if n.OnIssue != nil {
		n.OnIssue(ParseError{RecordIndex: index, Field: field, Value: value})
	}
}

// ToRaw renders a movement with canonical keys.
func (m Movement) ToRaw() RawMovement {
	raw := RawMovement{
		KeyID:        string(m.ID),
		KeyKind:      string(m.Kind),
		KeyDate:      m.Date.String(),
		KeyAmount:    m.GrossAmount.StringFixed(CurrencyPlaces),
		KeyLabel:     m.CounterpartyLabel,
		KeyReference: m.ReferenceNumber,
		KeyNotes:     m.Notes,
		KeyEditable:  m.Editable,
	}
	if !m.AmountConsumed.IsZero() {
		raw[KeyConsumed] = m.AmountConsumed.StringFixed(CurrencyPlaces)
	}
	return raw
}

// =============================================================================
// FIELD PICKING AND COERCION
// =============================================================================

// pick returns the value of the first populated key.
func pick(raw RawMovement, keys []string) (any, string, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			continue
		}
		return v, k, true
	}
	return nil, "", false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// ParseAmount coerces a raw value into a non-negative currency amount.
// The boolean is false when the value could not be parsed; the amount is then zero.
func ParseAmount(v any) (decimal.Decimal, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		d = t
	case float64:
		d = decimal.NewFromFloat(t)
	case float32:
		d = decimal.NewFromFloat32(t)
	case int:
		d = decimal.NewFromInt(int64(t))
	case int64:
		d = decimal.NewFromInt(t)
	case int32:
		d = decimal.NewFromInt(int64(t))
	case json.Number:
		d, err = parseLocaleAmount(t.String())
	case string:
		d, err = parseLocaleAmount(t)
	default:
		return decimal.Zero, false
	}
	if err != nil {
		return decimal.Zero, false
	}
	return RoundCurrency(d.Abs()), true
}

func parseLocaleAmount(s string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	for _, mark := range []string{"US$", "USD", "EUR", "COP", "$", "€"} {
		cleaned = strings.ReplaceAll(cleaned, mark, "")
	}

	negative := false
	if strings.HasPrefix(cleaned, "(") && strings.HasSuffix(cleaned, ")") {
		negative = true
		cleaned = strings.TrimSuffix(strings.TrimPrefix(cleaned, "("), ")")
	}
	if strings.HasPrefix(cleaned, "-") {
		negative = true
		cleaned = strings.TrimPrefix(cleaned, "-")
	}
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount %q", s)
	}

	lastDot := strings.LastIndex(cleaned, ".")
	lastComma := strings.LastIndex(cleaned, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(cleaned, ",") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		} else {
			cleaned = strings.Replace(cleaned, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(cleaned, ".") > 1 {
			cleaned = strings.ReplaceAll(cleaned, ".", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unable to parse amount %q: %w", s, err)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}

func parseDateValue(v any) (Date, bool) {
	switch t := v.(type) {
	case Date:
		return t, !t.IsZero()
	case string:
		return ParseDate(t)
	default:
		return ParseDate(stringify(v))
	}
}

func parseBool(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0, err == nil
	case string:
		switch foldKind(t) {
		case "true", "1", "si", "s", "yes", "y":
			return true, true
		case "false", "0", "no", "n":
			return false, true
		}
	}
	return false, false
}
