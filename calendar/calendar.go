// Package calendar renders tenant booking feeds as iCalendar documents behind
// HMAC-signed feed tokens.
package calendar

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

// DefaultWindow is the feed range when the caller omits explicit bounds.
const DefaultWindow = 30 * 24 * time.Hour

const (
	prodID     = "-//CodecCloud//Salon//DE"
	uidDomain  = "codeccloud"
	timeLayout = "20060102T150405Z"
)

// TokenSigner issues and validates tenant feed tokens of the form
// "<tenantId>.<hex hmac>". The token grants read access to one tenant's feed.
type TokenSigner struct {
	secret []byte
}

// NewTokenSigner creates a signer over the feed secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("calendar: feed secret is required")
	}

	return &TokenSigner{secret: []byte(secret)}, nil
}

// Sign issues a feed token for the tenant.
func (signer *TokenSigner) Sign(tenantID uuid.UUID) string {
	return tenantID.String() + "." + signer.digest(tenantID)
}

// Verify validates a feed token and returns the tenant it grants access to.
func (signer *TokenSigner) Verify(token string) (uuid.UUID, error) {
	tenantRaw, signature, ok := strings.Cut(strings.TrimSpace(token), ".")
	if !ok {
		return uuid.Nil, problem.Unauthorized("Malformed calendar feed token.")
	}

	tenantID, err := uuid.Parse(tenantRaw)
	if err != nil {
		return uuid.Nil, problem.Unauthorized("Malformed calendar feed token.")
	}

	if !hmac.Equal([]byte(signer.digest(tenantID)), []byte(signature)) {
		return uuid.Nil, problem.Unauthorized("Invalid calendar feed token.")
	}

	return tenantID, nil
}

func (signer *TokenSigner) digest(tenantID uuid.UUID) string {
	mac := hmac.New(sha256.New, signer.secret)
	mac.Write([]byte(tenantID.String()))

	return hex.EncodeToString(mac.Sum(nil))
}

// Range bounds a feed query. Zero fields take defaults at normalization.
type Range struct {
	From time.Time
	To   time.Time
}

// Normalize applies the default window relative to now and validates ordering.
func (feedRange Range) Normalize(now time.Time) (Range, error) {
	if feedRange.From.IsZero() {
		feedRange.From = now
	}

	if feedRange.To.IsZero() {
		feedRange.To = feedRange.From.Add(DefaultWindow)
	}

	if !feedRange.To.After(feedRange.From) {
		return Range{}, problem.BadRequest("Feed range end must be after its start.")
	}

	return feedRange, nil
}

// RenderICS produces an iCalendar document for the given bookings. Lines are
// CRLF-joined per RFC 5545; cancelled bookings must be filtered out upstream.
func RenderICS(bookings []*booking.Booking) string {
	ordered := make([]*booking.Booking, 0, len(bookings))
	for _, record := range bookings {
		if record != nil {
			ordered = append(ordered, record)
		}
	}

	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].SlotStart.Equal(ordered[j].SlotStart) {
			return ordered[i].ID.String() < ordered[j].ID.String()
		}

		return ordered[i].SlotStart.Before(ordered[j].SlotStart)
	})

	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:" + prodID,
	}

	for _, record := range ordered {
		lines = append(lines,
			"BEGIN:VEVENT",
			fmt.Sprintf("UID:%s@%s", record.ID, uidDomain),
			"DTSTAMP:"+record.UpdatedAt.UTC().Format(timeLayout),
			"DTSTART:"+record.SlotStart.UTC().Format(timeLayout),
			"DTEND:"+record.SlotEnd.UTC().Format(timeLayout),
			"SUMMARY:"+escapeText(summaryFor(record)),
			"STATUS:CONFIRMED",
			"END:VEVENT",
		)
	}

	lines = append(lines, "END:VCALENDAR")

	return strings.Join(lines, "\r\n") + "\r\n"
}

func summaryFor(record *booking.Booking) string {
	name := strings.TrimSpace(record.Customer.FirstName + " " + record.Customer.LastName)
	if name == "" {
		return "Termin"
	}

	return "Termin: " + name
}

// escapeText escapes iCalendar TEXT values per RFC 5545 section 3.3.11.
func escapeText(value string) string {
	replacer := strings.NewReplacer(
		"\\", "\\\\",
		";", "\\;",
		",", "\\,",
		"\n", "\\n",
	)

	return replacer.Replace(value)
}
