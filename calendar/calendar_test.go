//go:build unit

package calendar

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

func TestTokenSigner_SignVerifyRoundtrip(t *testing.T) {
	t.Parallel()

	signer, err := NewTokenSigner("feed-secret")
	require.NoError(t, err)

	tenantID := uuid.New()
	token := signer.Sign(tenantID)

	verified, err := signer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, tenantID, verified)
}

func TestTokenSigner_RejectsTampering(t *testing.T) {
	t.Parallel()

	signer, err := NewTokenSigner("feed-secret")
	require.NoError(t, err)

	tenantID := uuid.New()
	token := signer.Sign(tenantID)

	// Swapping the tenant id re-points the token at another feed.
	_, signature, ok := strings.Cut(token, ".")
	require.True(t, ok)

	forged := uuid.NewString() + "." + signature

	_, err = signer.Verify(forged)
	require.Error(t, err)
	assert.Equal(t, 401, problem.StatusOf(err))

	// A token from a different secret fails too.
	otherSigner, err := NewTokenSigner("other-secret")
	require.NoError(t, err)

	_, err = signer.Verify(otherSigner.Sign(tenantID))
	require.Error(t, err)
	assert.Equal(t, 401, problem.StatusOf(err))
}

func TestTokenSigner_RejectsMalformedTokens(t *testing.T) {
	t.Parallel()

	signer, err := NewTokenSigner("feed-secret")
	require.NoError(t, err)

	for _, token := range []string{"", "no-dot", "not-a-uuid.deadbeef"} {
		_, err := signer.Verify(token)
		require.Error(t, err)
		assert.Equal(t, 401, problem.StatusOf(err))
	}
}

func TestNewTokenSigner_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewTokenSigner("   ")
	require.Error(t, err)
}

func TestRange_Normalize(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	normalized, err := Range{}.Normalize(now)
	require.NoError(t, err)
	assert.Equal(t, now, normalized.From)
	assert.Equal(t, now.Add(DefaultWindow), normalized.To)

	from := now.Add(24 * time.Hour)

	normalized, err = Range{From: from}.Normalize(now)
	require.NoError(t, err)
	assert.Equal(t, from, normalized.From)
	assert.Equal(t, from.Add(DefaultWindow), normalized.To)

	_, err = Range{From: from, To: from}.Normalize(now)
	require.Error(t, err)
	assert.Equal(t, 400, problem.StatusOf(err))
}

func feedBooking(start time.Time, firstName, lastName string) *booking.Booking {
	return &booking.Booking{
		ID:        uuid.New(),
		SlotStart: start,
		SlotEnd:   start.Add(time.Hour),
		UpdatedAt: start.Add(-time.Hour),
		Customer: booking.Customer{
			ID:        uuid.New(),
			Email:     "anna@example.ch",
			FirstName: firstName,
			LastName:  lastName,
		},
	}
}

func TestRenderICS_Document(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC)

	later := feedBooking(base.Add(2*time.Hour), "Anna", "Keller")
	earlier := feedBooking(base, "Luca", "Moser")

	document := RenderICS([]*booking.Booking{later, earlier, nil})

	lines := strings.Split(strings.TrimSuffix(document, "\r\n"), "\r\n")

	assert.Equal(t, "BEGIN:VCALENDAR", lines[0])
	assert.Equal(t, "VERSION:2.0", lines[1])
	assert.Equal(t, "PRODID:-//CodecCloud//Salon//DE", lines[2])
	assert.Equal(t, "END:VCALENDAR", lines[len(lines)-1])

	assert.True(t, strings.HasSuffix(document, "\r\n"))
	assert.NotContains(t, strings.ReplaceAll(document, "\r\n", ""), "\n")

	// Events are ordered by start time.
	firstUID := strings.Index(document, "UID:"+earlier.ID.String()+"@codeccloud")
	secondUID := strings.Index(document, "UID:"+later.ID.String()+"@codeccloud")
	require.GreaterOrEqual(t, firstUID, 0)
	require.GreaterOrEqual(t, secondUID, 0)
	assert.Less(t, firstUID, secondUID)

	assert.Contains(t, document, "DTSTART:20260910T090000Z")
	assert.Contains(t, document, "DTEND:20260910T100000Z")
	assert.Contains(t, document, "SUMMARY:Termin: Luca Moser")
	assert.Contains(t, document, "STATUS:CONFIRMED")
}

func TestRenderICS_EmptyFeed(t *testing.T) {
	t.Parallel()

	document := RenderICS(nil)

	assert.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//CodecCloud//Salon//DE\r\nEND:VCALENDAR\r\n", document)
}

func TestRenderICS_EscapesSummaryText(t *testing.T) {
	t.Parallel()

	record := feedBooking(time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC), "Anna; Sophie", "Keller, Keller")

	document := RenderICS([]*booking.Booking{record})

	assert.Contains(t, document, `SUMMARY:Termin: Anna\; Sophie Keller\, Keller`)
}

func TestRenderICS_AnonymousSummary(t *testing.T) {
	t.Parallel()

	record := feedBooking(time.Date(2026, 9, 10, 9, 0, 0, 0, time.UTC), "", "")

	document := RenderICS([]*booking.Booking{record})

	assert.Contains(t, document, "SUMMARY:Termin\r\n")
}
