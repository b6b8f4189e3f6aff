package resolve

import (
	"strings"

	"callagent/internal/callrecord"
	"callagent/internal/outcome"
)

// normalizeNumber strips everything but digits. Carrier prefixes and
// formatting noise make full-string equality unreliable, hence the tiered
// suffix comparison below.
func normalizeNumber(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// matchRow finds the call-record row for phone using a tiered fallback:
// full normalized match, then last-10-digit, then last-7-digit suffix.
// Rows are expected most recent first; the first hit of the strongest
// tier wins. The tiers are best-effort fuzzy matching, not a guarantee.
func matchRow(rows []callrecord.Row, phone string) (callrecord.Row, bool) {
	want := normalizeNumber(phone)
	if want == "" {
		return callrecord.Row{}, false
	}
	for _, digits := range []int{0, 10, 7} {
		for _, row := range rows {
			got := normalizeNumber(row.Number)
			if got == "" {
				continue
			}
			if digits == 0 {
				if got == want {
					return row, true
				}
				continue
			}
			if suffixEqual(got, want, digits) {
				return row, true
			}
		}
	}
	return callrecord.Row{}, false
}

// suffixEqual compares the last n digits of both numbers. Both operands
// must have at least n digits, so short unrelated numbers never match.
func suffixEqual(a, b string, n int) bool {
	if len(a) < n || len(b) < n {
		return false
	}
	return a[len(a)-n:] == b[len(b)-n:]
}

// deriveOutcome maps a matched call-record row to a reportable status.
func deriveOutcome(row callrecord.Row) (outcome.Status, string) {
	switch row.Type {
	case callrecord.TypeOutgoing, callrecord.TypeIncoming:
		if row.DurationSeconds > 0 {
			return outcome.StatusConnected, string(row.Type)
		}
		return outcome.StatusNoAnswer, string(row.Type)
	case callrecord.TypeMissed:
		return outcome.StatusNoAnswer, "incoming"
	case callrecord.TypeRejected:
		return outcome.StatusRejected, "incoming"
	default:
		// duration-based heuristic for unrecognized types
		if row.DurationSeconds > 0 {
			return outcome.StatusConnected, ""
		}
		return outcome.StatusNoAnswer, ""
	}
}
