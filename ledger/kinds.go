/*
kinds.go - Kind alias registry

PURPOSE:
  The source system spells document types many ways: "FACTURA", "Nota de
  Crédito", "NC", "tipoDocumento=ANTICIPO"... The registry maps every known
  spelling to a canonical Kind so the normalizer stays a single lookup.

HOW IT WORKS:
  1. Spellings are folded: lower-case, accents stripped, spaces/hyphens → "_"
  2. The folded form is looked up in the registry
  3. Misses fall through unchanged; the raw string becomes the Kind

USAGE:
  ledger.RegisterKindAlias("fact_exportacion", ledger.KindInvoice)
  kind := ledger.LookupKind("Factura")  // KindInvoice

SEE ALSO:
  - normalize.go: Uses LookupKind for the kind field
*/
package ledger

import (
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// KIND REGISTRY
// =============================================================================

var (
	kindRegistry = make(map[string]Kind)
	kindMu       sync.RWMutex
)

func init() {
	for _, k := range KnownKinds {
		RegisterKindAlias(string(k), k)
	}
	aliases := map[Kind][]string{
		KindInvoice:        {"factura", "fac", "fact", "factura_exportacion", "inv"},
		KindCreditNote:     {"nota_credito", "nota_de_credito", "nc", "credito", "creditnote"},
		KindDebitNote:      {"nota_debito", "nota_de_debito", "nd", "debito", "debitnote"},
		KindRetention:      {"retencion", "ret", "retencion_fuente", "retencion_iva"},
		KindPayment:        {"pago", "abono", "cobro", "pay"},
		KindPrepayment:     {"prepago", "anticipo", "prepaid"},
		KindOpeningBalance: {"saldo_inicial", "saldo_anterior", "opening", "si"},
	}
	for kind, spellings := range aliases {
		for _, s := range spellings {
			RegisterKindAlias(s, kind)
		}
	}
}

// RegisterKindAlias maps a spelling to a canonical kind.
func RegisterKindAlias(spelling string, kind Kind) {
	kindMu.Lock()
	defer kindMu.Unlock()
	kindRegistry[foldKind(spelling)] = kind
}

// LookupKind returns the canonical kind for a spelling, or the trimmed input
// unchanged when nothing matches.
func LookupKind(spelling string) Kind {
	trimmed := strings.TrimSpace(spelling)
	kindMu.RLock()
	defer kindMu.RUnlock()
	if k, ok := kindRegistry[foldKind(trimmed)]; ok {
		return k
	}
	return Kind(trimmed)
}

// foldKind lower-cases, strips diacritics and joins words with underscores.
func foldKind(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	folded = strings.ToLower(strings.TrimSpace(folded))
	return strings.Join(strings.FieldsFunc(folded, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.'
	}), "_")
}
