package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/rates"
)

var fixedTime = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func goldSnap(city string, base int64) rates.Snapshot {
	snap := rates.NewSnapshot(city, rates.Gold, decimal.NewFromInt(base), fixedTime)
	snap.Cycle = 7
	return snap
}

func triggerFor(owner, city string, target, value int64) alerts.TriggerEvent {
	alert := alerts.Alert{
		ID:        uuid.NewSHA1(uuid.NameSpaceOID, []byte(owner+city)),
		Owner:     owner,
		City:      city,
		Metal:     rates.Gold,
		Condition: alerts.Below,
		Target:    decimal.NewFromInt(target),
	}
	return alerts.TriggerEvent{Alert: alert, Snapshot: goldSnap(city, value), Direction: alerts.Below, Cycle: 7}
}

func TestComposeDeterministic(t *testing.T) {
	recipient := Recipient{ID: "u1", Name: "Asha", PreferredCity: "Mumbai"}
	snaps := []rates.Snapshot{goldSnap("Delhi", 15810), goldSnap("Mumbai", 15804)}
	events := []alerts.TriggerEvent{triggerFor("u1", "Mumbai", 15900, 15804)}
	external := []Section{{Title: "Portfolio", Body: "Holdings value Rs.1,20,000"}}

	a, okA := Compose(recipient, snaps, events, external, 7, fixedTime)
	b, okB := Compose(recipient, snaps, events, external, 7, fixedTime)
	if !okA || !okB {
		t.Fatal("compose should produce a message")
	}
	if a.Render() != b.Render() {
		t.Fatal("identical inputs must compose byte-identical content")
	}
	if a.IdempotencyKey != b.IdempotencyKey {
		t.Fatal("idempotency keys must match for identical inputs")
	}
}

func TestComposeMissingExternalSectionOmitted(t *testing.T) {
	recipient := Recipient{ID: "u1"}
	snaps := []rates.Snapshot{goldSnap("Mumbai", 15804)}

	full, _ := Compose(recipient, snaps, nil, []Section{{Title: "Reminders", Body: "Akshaya Tritiya on May 9"}}, 1, fixedTime)
	partial, ok := Compose(recipient, snaps, nil, []Section{{Title: "Reminders", Body: ""}}, 1, fixedTime)
	if !ok {
		t.Fatal("a missing external section must not void the message")
	}
	if len(partial.Sections) != len(full.Sections)-1 {
		t.Fatalf("only the missing section should be dropped: %d vs %d", len(partial.Sections), len(full.Sections))
	}
	if strings.Contains(partial.Render(), "Reminders") {
		t.Fatal("empty external section leaked into output")
	}
}

func TestComposeOnlyCurrentCycleAlertsAnnounced(t *testing.T) {
	recipient := Recipient{ID: "u1"}
	snaps := []rates.Snapshot{goldSnap("Mumbai", 15804)}

	withEvent, _ := Compose(recipient, snaps, []alerts.TriggerEvent{triggerFor("u1", "Mumbai", 15900, 15804)}, nil, 2, fixedTime)
	if !strings.Contains(withEvent.Render(), "Price Alerts") {
		t.Fatal("current-cycle trigger should be announced")
	}

	// Next cycle with no fresh events: the alert stays triggered but is not
	// re-announced.
	without, ok := Compose(recipient, snaps, nil, nil, 3, fixedTime)
	if !ok {
		t.Fatal("message without alerts should still compose")
	}
	if strings.Contains(without.Render(), "Price Alerts") {
		t.Fatal("prior-cycle trigger must not be re-announced")
	}
}

func TestComposeFiltersOtherOwnersEvents(t *testing.T) {
	recipient := Recipient{ID: "u1"}
	snaps := []rates.Snapshot{goldSnap("Mumbai", 15804)}
	events := []alerts.TriggerEvent{triggerFor("u2", "Mumbai", 15900, 15804)}

	msg, _ := Compose(recipient, snaps, events, nil, 1, fixedTime)
	if strings.Contains(msg.Render(), "Price Alerts") {
		t.Fatal("another owner's trigger leaked into the message")
	}
}

func TestComposePreferredCityLeads(t *testing.T) {
	recipient := Recipient{ID: "u1", PreferredCity: "Mumbai"}
	snaps := []rates.Snapshot{goldSnap("Chennai", 15820), goldSnap("Mumbai", 15804)}

	msg, _ := Compose(recipient, snaps, nil, nil, 1, fixedTime)
	body := msg.Render()
	if strings.Index(body, "Mumbai") > strings.Index(body, "Chennai") {
		t.Fatal("preferred city should lead the market summary")
	}
}

func TestComposeEmptyInputsProducesNoMessage(t *testing.T) {
	if _, ok := Compose(Recipient{ID: "u1"}, nil, nil, nil, 1, fixedTime); ok {
		t.Fatal("no inputs at all should produce no message")
	}
}

func TestIdempotencyKeyChangesWithCycle(t *testing.T) {
	recipient := Recipient{ID: "u1"}
	snaps := []rates.Snapshot{goldSnap("Mumbai", 15804)}

	a, _ := Compose(recipient, snaps, nil, nil, 1, fixedTime)
	b, _ := Compose(recipient, snaps, nil, nil, 2, fixedTime)
	if a.IdempotencyKey == b.IdempotencyKey {
		t.Fatal("different cycles must produce different idempotency keys")
	}
}
