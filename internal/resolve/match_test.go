package resolve

import (
	"testing"
	"time"

	"callagent/internal/callrecord"
	"callagent/internal/outcome"
)

func TestNormalizeNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+1 (555) 123-4567", "15551234567"},
		{"555.123.4567", "5551234567"},
		{"no digits", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := normalizeNumber(tc.in); got != tc.want {
			t.Errorf("normalizeNumber(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestMatchRow(t *testing.T) {
	now := time.Now()
	row := func(number string, age time.Duration) callrecord.Row {
		return callrecord.Row{Number: number, Type: callrecord.TypeOutgoing, OccurredAt: now.Add(-age)}
	}

	cases := []struct {
		name  string
		rows  []callrecord.Row
		phone string
		want  string
		found bool
	}{
		{
			name:  "exact normalized match",
			rows:  []callrecord.Row{row("+1 (555) 123-4567", 0)},
			phone: "15551234567",
			want:  "+1 (555) 123-4567",
			found: true,
		},
		{
			name:  "last ten digits when country prefix differs",
			rows:  []callrecord.Row{row("005551234567", 0)},
			phone: "+15551234567",
			want:  "005551234567",
			found: true,
		},
		{
			name:  "seven digit suffix hit",
			rows:  []callrecord.Row{row("0301234567", 0)},
			phone: "5551234567",
			want:  "0301234567",
			found: true,
		},
		{
			name:  "different suffixes never match",
			rows:  []callrecord.Row{row("5551230000", 0)},
			phone: "5551234567",
			found: false,
		},
		{
			name: "exact beats suffix even when suffix row is newer",
			rows: []callrecord.Row{
				row("991234567", 1*time.Minute),
				row("5551234567", 5*time.Minute),
			},
			phone: "5551234567",
			want:  "5551234567",
			found: true,
		},
		{
			name:  "short numbers never suffix match",
			rows:  []callrecord.Row{row("4567", 0)},
			phone: "1234567",
			found: false,
		},
		{
			name:  "empty phone matches nothing",
			rows:  []callrecord.Row{row("5551234567", 0)},
			phone: "ext.",
			found: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, found := matchRow(tc.rows, tc.phone)
			if found != tc.found {
				t.Fatalf("found = %v, want %v", found, tc.found)
			}
			if found && got.Number != tc.want {
				t.Errorf("matched %q, want %q", got.Number, tc.want)
			}
		})
	}
}

func TestDeriveOutcome(t *testing.T) {
	cases := []struct {
		name      string
		row       callrecord.Row
		status    outcome.Status
		direction string
	}{
		{"outgoing answered", callrecord.Row{Type: callrecord.TypeOutgoing, DurationSeconds: 30}, outcome.StatusConnected, "outgoing"},
		{"outgoing zero duration", callrecord.Row{Type: callrecord.TypeOutgoing}, outcome.StatusNoAnswer, "outgoing"},
		{"incoming answered", callrecord.Row{Type: callrecord.TypeIncoming, DurationSeconds: 5}, outcome.StatusConnected, "incoming"},
		{"missed", callrecord.Row{Type: callrecord.TypeMissed}, outcome.StatusNoAnswer, "incoming"},
		{"rejected", callrecord.Row{Type: callrecord.TypeRejected}, outcome.StatusRejected, "incoming"},
		{"unknown type with duration", callrecord.Row{Type: callrecord.TypeUnknown, DurationSeconds: 12}, outcome.StatusConnected, ""},
		{"unknown type no duration", callrecord.Row{Type: "weird"}, outcome.StatusNoAnswer, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, direction := deriveOutcome(tc.row)
			if status != tc.status || direction != tc.direction {
				t.Errorf("deriveOutcome = (%s, %q), want (%s, %q)", status, direction, tc.status, tc.direction)
			}
		})
	}
}
