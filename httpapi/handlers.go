package httpapi

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/carosellagiuliano-max/codeccloud-core/booking"
	"github.com/carosellagiuliano-max/codeccloud-core/engine"
	"github.com/carosellagiuliano-max/codeccloud-core/idempotency"
	"github.com/carosellagiuliano-max/codeccloud-core/log"
	"github.com/carosellagiuliano-max/codeccloud-core/problem"
)

const (
	invoiceDueAfter        = 30 * 24 * time.Hour
	defaultInvoiceLanguage = "de-CH"
	invoiceCDNBase         = "https://cdn.codeccloud.local/invoices/"
)

type customerRequest struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

type moneyRequest struct {
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
}

type createBookingRequest struct {
	ServiceID string          `json:"serviceId"`
	StaffID   string          `json:"staffId"`
	SlotStart string          `json:"slotStart"`
	SlotEnd   string          `json:"slotEnd"`
	Price     moneyRequest    `json:"price"`
	Customer  customerRequest `json:"customer"`
	Notes     string          `json:"notes"`
}

type rescheduleBookingRequest struct {
	SlotStart string `json:"slotStart"`
	SlotEnd   string `json:"slotEnd"`
	Reason    string `json:"reason"`
}

type cancelBookingRequest struct {
	Reason   string `json:"reason"`
	WaiveFee bool   `json:"waiveFee"`
}

type generateInvoiceRequest struct {
	BookingID string `json:"bookingId"`
	Language  string `json:"language"`
}

func parseUUIDField(raw, field string, required bool, errs *[]problem.FieldError) uuid.UUID {
	if raw == "" {
		if required {
			*errs = append(*errs, problem.FieldError{Field: field, Message: "is required"})
		}

		return uuid.Nil
	}

	parsed, err := uuid.Parse(raw)
	if err != nil {
		*errs = append(*errs, problem.FieldError{Field: field, Message: "must be a UUID"})

		return uuid.Nil
	}

	return parsed
}

func parseTimeField(raw, field string, errs *[]problem.FieldError) time.Time {
	if raw == "" {
		*errs = append(*errs, problem.FieldError{Field: field, Message: "is required"})

		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		*errs = append(*errs, problem.FieldError{Field: field, Message: "must be an RFC 3339 timestamp"})

		return time.Time{}
	}

	return parsed.UTC()
}

func (req createBookingRequest) toInput() (booking.CreateInput, error) {
	var errs []problem.FieldError

	serviceID := parseUUIDField(req.ServiceID, "serviceId", true, &errs)
	staffID := parseUUIDField(req.StaffID, "staffId", true, &errs)
	slotStart := parseTimeField(req.SlotStart, "slotStart", &errs)
	slotEnd := parseTimeField(req.SlotEnd, "slotEnd", &errs)
	customerID := parseUUIDField(req.Customer.ID, "customer.id", true, &errs)

	if req.Customer.Email == "" {
		errs = append(errs, problem.FieldError{Field: "customer.email", Message: "is required"})
	}

	if req.Price.Currency == "" {
		errs = append(errs, problem.FieldError{Field: "price.currency", Message: "is required"})
	}

	if req.Price.Amount < 0 {
		errs = append(errs, problem.FieldError{Field: "price.amount", Message: "must not be negative"})
	}

	if len(errs) > 0 {
		return booking.CreateInput{}, problem.Validation(errs...)
	}

	return booking.CreateInput{
		ServiceID: serviceID,
		StaffID:   staffID,
		SlotStart: slotStart,
		SlotEnd:   slotEnd,
		Price:     booking.Money{Currency: req.Price.Currency, Amount: req.Price.Amount},
		Customer: booking.Customer{
			ID:        customerID,
			Email:     req.Customer.Email,
			Phone:     req.Customer.Phone,
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
		},
		Notes: req.Notes,
	}, nil
}

func (req rescheduleBookingRequest) toInput(bookingID uuid.UUID) (booking.RescheduleInput, error) {
	var errs []problem.FieldError

	slotStart := parseTimeField(req.SlotStart, "slotStart", &errs)
	slotEnd := parseTimeField(req.SlotEnd, "slotEnd", &errs)

	if len(errs) > 0 {
		return booking.RescheduleInput{}, problem.Validation(errs...)
	}

	return booking.RescheduleInput{
		BookingID: bookingID,
		SlotStart: slotStart,
		SlotEnd:   slotEnd,
		Reason:    req.Reason,
	}, nil
}

func decodeBody(c *fiber.Ctx, target any) error {
	if err := json.Unmarshal(c.Body(), target); err != nil {
		return problem.BadRequest("Request body is not valid JSON.")
	}

	return nil
}

func pathBookingID(c *fiber.Ctx) (uuid.UUID, error) {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, problem.BadRequest("Booking id in path is malformed.")
	}

	return bookingID, nil
}

// ensureIdempotent runs a guarded mutation through the coordinator and writes
// the stored or fresh response, flagging replays.
func (server *Server) ensureIdempotent(
	c *fiber.Ctx,
	requestID string,
	tenantID uuid.UUID,
	requestBody any,
	execute idempotency.Execute,
) error {
	response, err := server.idem.Ensure(
		c.UserContext(),
		tenantID,
		c.Get(HeaderIdempotencyKey),
		requestBody,
		execute,
	)
	if err != nil {
		return writeProblem(c, requestID, err)
	}

	c.Set(HeaderIdempotentReplay, strconv.FormatBool(response.Replayed))

	return writeRawJSON(c, requestID, response.Status, response.Body)
}

func (server *Server) handleCreateBooking(c *fiber.Ctx) error {
	identity, err := server.resolve(c, "bookings:create")
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	var req createBookingRequest
	if err := decodeBody(c, &req); err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	input, err := req.toInput()
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	return server.ensureIdempotent(c, identity.RequestID, identity.TenantID, req, func(ctx context.Context) (int, any, error) {
		var created *booking.Booking

		err := server.db.Transaction(ctx, identity.TenantID, func(tx *engine.Tx) error {
			record, _, err := tx.CreateBooking(input)
			if err != nil {
				return err
			}

			created = record

			return nil
		})
		if err != nil {
			return 0, nil, err
		}

		server.logger.Log(ctx, log.LevelInfo, "booking created",
			log.String("booking_id", created.ID.String()),
			log.String("tenant_id", identity.TenantID.String()),
		)

		return fiber.StatusCreated, created, nil
	})
}

func (server *Server) handleRescheduleBooking(c *fiber.Ctx) error {
	identity, err := server.resolve(c, "bookings:reschedule")
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	bookingID, err := pathBookingID(c)
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	var req rescheduleBookingRequest
	if err := decodeBody(c, &req); err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	input, err := req.toInput(bookingID)
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	dedupPayload := struct {
		BookingID string                   `json:"bookingId"`
		Body      rescheduleBookingRequest `json:"body"`
	}{BookingID: bookingID.String(), Body: req}

	return server.ensureIdempotent(c, identity.RequestID, identity.TenantID, dedupPayload, func(ctx context.Context) (int, any, error) {
		var updated *booking.Booking

		err := server.db.Transaction(ctx, identity.TenantID, func(tx *engine.Tx) error {
			record, _, err := tx.RescheduleBooking(input)
			if err != nil {
				return err
			}

			updated = record

			return nil
		})
		if err != nil {
			return 0, nil, err
		}

		return fiber.StatusOK, updated, nil
	})
}

func (server *Server) handleCancelBooking(c *fiber.Ctx) error {
	identity, err := server.resolve(c, "bookings:cancel")
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	bookingID, err := pathBookingID(c)
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	req := cancelBookingRequest{}
	if len(c.Body()) > 0 {
		if err := decodeBody(c, &req); err != nil {
			return writeProblem(c, identity.RequestID, err)
		}
	}

	dedupPayload := struct {
		BookingID string               `json:"bookingId"`
		Body      cancelBookingRequest `json:"body"`
	}{BookingID: bookingID.String(), Body: req}

	return server.ensureIdempotent(c, identity.RequestID, identity.TenantID, dedupPayload, func(ctx context.Context) (int, any, error) {
		var cancelled *booking.Booking

		err := server.db.Transaction(ctx, identity.TenantID, func(tx *engine.Tx) error {
			record, _, err := tx.CancelBooking(booking.CancelInput{
				BookingID: bookingID,
				Reason:    req.Reason,
				WaiveFee:  req.WaiveFee,
			})
			if err != nil {
				return err
			}

			cancelled = record

			return nil
		})
		if err != nil {
			return 0, nil, err
		}

		return fiber.StatusOK, cancelled, nil
	})
}

func (server *Server) handleAvailability(c *fiber.Ctx) error {
	identity, err := server.resolve(c, "availability")
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	var errs []problem.FieldError

	serviceID := parseUUIDField(c.Query("serviceId"), "serviceId", true, &errs)
	staffID := parseUUIDField(c.Query("staffId"), "staffId", false, &errs)
	from := parseTimeField(c.Query("from"), "from", &errs)
	to := parseTimeField(c.Query("to"), "to", &errs)

	granularity := 0
	if raw := c.Query("granularityMinutes"); raw != "" {
		parsed, parseErr := strconv.Atoi(raw)
		if parseErr != nil {
			errs = append(errs, problem.FieldError{Field: "granularityMinutes", Message: "must be an integer"})
		} else {
			granularity = parsed
		}
	}

	if len(errs) > 0 {
		return writeProblem(c, identity.RequestID, problem.Validation(errs...))
	}

	slots, err := server.db.ListAvailability(identity.TenantID, booking.AvailabilityQuery{
		ServiceID:          serviceID,
		StaffID:            staffID,
		From:               from,
		To:                 to,
		GranularityMinutes: granularity,
	})
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	if slots == nil {
		slots = []booking.AvailabilitySlot{}
	}

	return writeJSON(c, identity.RequestID, fiber.StatusOK, fiber.Map{"slots": slots})
}

func (server *Server) handleGenerateInvoice(c *fiber.Ctx) error {
	identity, err := server.resolve(c, "invoices:generate")
	if err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	var req generateInvoiceRequest
	if err := decodeBody(c, &req); err != nil {
		return writeProblem(c, identity.RequestID, err)
	}

	var errs []problem.FieldError

	bookingID := parseUUIDField(req.BookingID, "bookingId", true, &errs)
	if len(errs) > 0 {
		return writeProblem(c, identity.RequestID, problem.Validation(errs...))
	}

	language := req.Language
	if language == "" {
		language = defaultInvoiceLanguage
	}

	return server.ensureIdempotent(c, identity.RequestID, identity.TenantID, req, func(ctx context.Context) (int, any, error) {
		var invoice *engine.Invoice

		err := server.db.Transaction(ctx, identity.TenantID, func(tx *engine.Tx) error {
			record, err := tx.BookingCopy(bookingID)
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			invoiceID := uuid.New()

			created, err := tx.CreateInvoice(engine.Invoice{
				ID:        invoiceID,
				TenantID:  identity.TenantID,
				BookingID: record.ID,
				IssueDate: now,
				DueDate:   now.Add(invoiceDueAfter),
				Language:  language,
				PDFURL:    invoiceCDNBase + invoiceID.String() + ".pdf",
				Total:     record.Price,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}

			invoice = created

			_, err = tx.EnqueueOutbox("invoice.generated", map[string]any{
				"invoiceId":  created.ID,
				"bookingId":  created.BookingID,
				"tenantId":   created.TenantID,
				"total":      created.Total,
				"occurredAt": now,
			})

			return err
		})
		if err != nil {
			return 0, nil, err
		}

		return fiber.StatusCreated, invoice, nil
	})
}
