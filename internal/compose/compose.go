// Package compose assembles recipient-specific message content from rate
// snapshots, trigger events, and externally supplied sections.
package compose

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/rates"
)

// messageNamespace scopes idempotency keys to this pipeline.
var messageNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Recipient is the delivery target plus composition preferences.
type Recipient struct {
	ID            string
	Name          string
	PreferredCity string
}

// Section is one independent block of message content. External sections
// (portfolio, reminders, news) arrive pre-rendered and opaque.
type Section struct {
	Title string
	Body  string
}

// Message is a fully composed notification, consumed once by the dispatcher.
type Message struct {
	Recipient      Recipient
	Sections       []Section
	Cycle          uint64
	GeneratedAt    time.Time
	IdempotencyKey string
}

// Render joins the sections into the final text body.
func (m Message) Render() string {
	parts := make([]string, 0, len(m.Sections))
	for _, section := range m.Sections {
		if section.Title != "" {
			parts = append(parts, section.Title+"\n"+section.Body)
		} else {
			parts = append(parts, section.Body)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Compose builds one message for a recipient. The function is pure: given
// identical inputs the output is byte-identical, which the dispatcher's
// idempotency key depends on. Missing inputs drop their section instead of
// failing; only a message with no sections at all is reported as empty.
func Compose(recipient Recipient, snapshots []rates.Snapshot, events []alerts.TriggerEvent, external []Section, cycle uint64, generatedAt time.Time) (Message, bool) {
	sections := make([]Section, 0, 2+len(external))

	if market := marketSummary(recipient, snapshots); market != nil {
		sections = append(sections, *market)
	}
	if triggered := triggeredSection(recipient, events); triggered != nil {
		sections = append(sections, *triggered)
	}
	for _, section := range external {
		if strings.TrimSpace(section.Body) == "" {
			continue
		}
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		return Message{}, false
	}

	msg := Message{
		Recipient:   recipient,
		Sections:    sections,
		Cycle:       cycle,
		GeneratedAt: generatedAt,
	}
	msg.IdempotencyKey = idempotencyKey(recipient.ID, cycle, msg.Render())
	return msg, true
}

// marketSummary renders the rates block. The recipient's preferred city
// leads; remaining cities follow in lexical order so output is stable.
func marketSummary(recipient Recipient, snapshots []rates.Snapshot) *Section {
	if len(snapshots) == 0 {
		return nil
	}

	byCity := make(map[string][]rates.Snapshot)
	cities := make([]string, 0)
	for _, snap := range snapshots {
		if _, seen := byCity[snap.City]; !seen {
			cities = append(cities, snap.City)
		}
		byCity[snap.City] = append(byCity[snap.City], snap)
	}
	sort.Strings(cities)
	if recipient.PreferredCity != "" {
		for i, city := range cities {
			if city == recipient.PreferredCity {
				cities = append([]string{city}, append(cities[:i:i], cities[i+1:]...)...)
				break
			}
		}
	}

	var b strings.Builder
	for _, city := range cities {
		group := byCity[city]
		sort.Slice(group, func(i, j int) bool { return group[i].Metal < group[j].Metal })
		for _, snap := range group {
			writeSnapshotLine(&b, snap)
		}
	}

	return &Section{Title: "Today's Rates", Body: strings.TrimRight(b.String(), "\n")}
}

func writeSnapshotLine(b *strings.Builder, snap rates.Snapshot) {
	switch snap.Metal {
	case rates.Gold:
		fmt.Fprintf(b, "%s Gold 24K Rs.%s/g", snap.City, formatRate(snap.Tiers[rates.Tier24K]))
		if tier22, ok := snap.Tiers[rates.Tier22K]; ok {
			fmt.Fprintf(b, " | 22K Rs.%s/g", formatRate(tier22))
		}
	default:
		fmt.Fprintf(b, "%s Silver Rs.%s/g", snap.City, formatRate(snap.Base))
	}
	if snap.Stale {
		b.WriteString(" (stale)")
	}
	b.WriteString("\n")
}

// triggeredSection announces only alerts triggered in the current cycle.
// Alerts sitting in triggered state from prior cycles are not repeated.
func triggeredSection(recipient Recipient, events []alerts.TriggerEvent) *Section {
	mine := make([]alerts.TriggerEvent, 0)
	for _, event := range events {
		if event.Alert.Owner == recipient.ID {
			mine = append(mine, event)
		}
	}
	if len(mine) == 0 {
		return nil
	}
	sort.Slice(mine, func(i, j int) bool {
		return mine[i].Alert.ID.String() < mine[j].Alert.ID.String()
	})

	var b strings.Builder
	for _, event := range mine {
		value, _ := watchedValue(event)
		direction := "fell below"
		if event.Direction == alerts.Above {
			direction = "rose above"
		}
		fmt.Fprintf(&b, "%s in %s %s your target Rs.%s (now Rs.%s/g)\n",
			instrumentLabel(event.Alert), event.Alert.City,
			direction, formatRate(event.Alert.Target), formatRate(value))
	}

	return &Section{Title: "Price Alerts", Body: strings.TrimRight(b.String(), "\n")}
}

func watchedValue(event alerts.TriggerEvent) (decimal.Decimal, bool) {
	tier := event.Alert.Tier
	if tier == "" {
		tier = rates.Tier24K
	}
	value, ok := event.Snapshot.Tiers[tier]
	return value, ok
}

func instrumentLabel(alert alerts.Alert) string {
	if alert.Metal != rates.Gold {
		return "Silver"
	}
	tier := alert.Tier
	if tier == "" {
		tier = rates.Tier24K
	}
	return "Gold " + strings.ToUpper(string(tier))
}

func formatRate(d decimal.Decimal) string {
	return d.StringFixed(0)
}

func idempotencyKey(recipientID string, cycle uint64, content string) string {
	hash := sha256.Sum256([]byte(content))
	seed := fmt.Sprintf("%s|%d|%s", recipientID, cycle, hex.EncodeToString(hash[:]))
	return uuid.NewSHA1(messageNamespace, []byte(seed)).String()
}
