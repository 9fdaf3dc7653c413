package httpapi

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/calendar"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

const calendarContentType = "text/calendar; charset=utf-8"

// handleCalendarFeed serves a tenant's upcoming bookings as an iCalendar
// document. Access is granted by the HMAC feed token alone; the feed carries
// no customer contact data beyond names.
func (server *Server) handleCalendarFeed(c *fiber.Ctx) error {
	requestID := c.Get(HeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	tenantID, err := server.feed.Verify(c.Query("token"))
	if err != nil {
		return writeProblem(c, requestID, err)
	}

	var errs []problem.FieldError

	feedRange := calendar.Range{}
	if raw := c.Query("from"); raw != "" {
		feedRange.From = parseTimeField(raw, "from", &errs)
	}

	if raw := c.Query("to"); raw != "" {
		feedRange.To = parseTimeField(raw, "to", &errs)
	}

	if len(errs) > 0 {
		return writeProblem(c, requestID, problem.Validation(errs...))
	}

	feedRange, err = feedRange.Normalize(time.Now().UTC())
	if err != nil {
		return writeProblem(c, requestID, err)
	}

	bookings := server.db.ListUpcomingBookings(tenantID, feedRange.From, feedRange.To)

	c.Set(HeaderRequestID, requestID)
	c.Set(fiber.HeaderContentType, calendarContentType)

	return c.Status(fiber.StatusOK).SendString(calendar.RenderICS(bookings))
}
