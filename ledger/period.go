package ledger

// =============================================================================
// PERIOD - The reporting window of a statement
// =============================================================================

// Period bounds a statement: movements before Start fold into the opening
// balance, movements in [Start, End] are listed. A zero Start means "since the
// beginning"; a zero End means "up to today and beyond".
type Period struct {
	Start Date
	End   Date
}

// Contains returns true if d is within [Start, End], honoring open bounds.
func (p Period) Contains(d Date) bool {
	return (p.Start.IsZero() || d.AfterOrEqual(p.Start)) &&
		(p.End.IsZero() || d.BeforeOrEqual(p.End))
}

// Validate rejects periods whose end is before their start.
func (p Period) Validate() error {
	if !p.Start.IsZero() && !p.End.IsZero() && p.End.Before(p.Start) {
		return ErrInvalidPeriod
	}
	return nil
}

func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// MonthPeriod returns the calendar month containing d.
func MonthPeriod(d Date) Period {
	start := NewDate(d.Time.Year(), d.Time.Month(), 1)
	return Period{Start: start, End: start.AddMonths(1).AddDays(-1)}
}
