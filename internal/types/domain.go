// Package types defines the shared domain model for the scheduled payments
// service: the ScheduledPayment document, its tagged-union Schedule, the
// subscription plan model, and the application error taxonomy.
package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScheduleKind discriminates the schedule variants carried by a
// ScheduledPayment. The JSON discriminator field is "frequency" and uses the
// upper-case wire values below.
type ScheduleKind string

const (
	// ScheduleOnce fires a single time at ExecutionDate.
	ScheduleOnce ScheduleKind = "ONCE"
	// ScheduleWeekly fires on the configured weekdays between StartDate and EndDate.
	ScheduleWeekly ScheduleKind = "WEEKLY"
	// ScheduleMonthly fires on DayOfMonth between StartDate and EndDate.
	ScheduleMonthly ScheduleKind = "MONTHLY"
)

// weekdayNames maps the wire representation of a weekday to time.Weekday.
// Matching is case-insensitive; the canonical form is upper-case English.
var weekdayNames = map[string]time.Weekday{
	"MONDAY":    time.Monday,
	"TUESDAY":   time.Tuesday,
	"WEDNESDAY": time.Wednesday,
	"THURSDAY":  time.Thursday,
	"FRIDAY":    time.Friday,
	"SATURDAY":  time.Saturday,
	"SUNDAY":    time.Sunday,
}

// ParseWeekday resolves a wire weekday name to a time.Weekday.
func ParseWeekday(name string) (time.Weekday, bool) {
	d, ok := weekdayNames[strings.ToUpper(strings.TrimSpace(name))]
	return d, ok
}

// WeekdayName returns the canonical wire name for a time.Weekday.
func WeekdayName(d time.Weekday) string {
	return strings.ToUpper(d.String())
}

// Schedule is the tagged union of the three recurrence variants. Exactly one
// variant is populated, selected by Kind. Consumers must switch exhaustively
// on Kind; adding a new kind requires touching every such switch.
type Schedule struct {
	Kind ScheduleKind

	// Once
	ExecutionDate time.Time

	// Weekly
	DaysOfWeek []string

	// Monthly
	DayOfMonth int

	// Weekly and Monthly
	StartDate time.Time
	EndDate   time.Time
}

// scheduleJSON is the wire form of Schedule. The original service accepted
// the discriminator under "frequency" for ONCE/MONTHLY and under "type" for
// WEEKLY; both spellings are accepted on input and "frequency" is always
// emitted.
type scheduleJSON struct {
	Frequency     string     `json:"frequency,omitempty"`
	Type          string     `json:"type,omitempty"`
	ExecutionDate *time.Time `json:"executionDate,omitempty"`
	DaysOfWeek    []string   `json:"daysOfWeek,omitempty"`
	DayOfMonth    *int       `json:"dayOfMonth,omitempty"`
	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
}

// MarshalJSON encodes the schedule with only the fields of its variant.
func (s Schedule) MarshalJSON() ([]byte, error) {
	out := scheduleJSON{Frequency: string(s.Kind)}
	switch s.Kind {
	case ScheduleOnce:
		t := s.ExecutionDate
		out.ExecutionDate = &t
	case ScheduleWeekly:
		out.DaysOfWeek = s.DaysOfWeek
		start, end := s.StartDate, s.EndDate
		out.StartDate, out.EndDate = &start, &end
	case ScheduleMonthly:
		dom := s.DayOfMonth
		out.DayOfMonth = &dom
		start, end := s.StartDate, s.EndDate
		out.StartDate, out.EndDate = &start, &end
	default:
		return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a schedule, rejecting unknown discriminators and
// variants missing their required fields.
func (s *Schedule) UnmarshalJSON(data []byte) error {
	var raw scheduleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	disc := raw.Frequency
	if disc == "" {
		disc = raw.Type
	}

	switch ScheduleKind(strings.ToUpper(disc)) {
	case ScheduleOnce:
		if raw.ExecutionDate == nil {
			return fmt.Errorf("schedule ONCE requires executionDate")
		}
		*s = Schedule{Kind: ScheduleOnce, ExecutionDate: raw.ExecutionDate.UTC()}
	case ScheduleWeekly:
		if raw.StartDate == nil || raw.EndDate == nil {
			return fmt.Errorf("schedule WEEKLY requires startDate and endDate")
		}
		*s = Schedule{
			Kind:       ScheduleWeekly,
			DaysOfWeek: raw.DaysOfWeek,
			StartDate:  raw.StartDate.UTC(),
			EndDate:    raw.EndDate.UTC(),
		}
	case ScheduleMonthly:
		if raw.DayOfMonth == nil {
			return fmt.Errorf("schedule MONTHLY requires dayOfMonth")
		}
		if raw.StartDate == nil || raw.EndDate == nil {
			return fmt.Errorf("schedule MONTHLY requires startDate and endDate")
		}
		*s = Schedule{
			Kind:       ScheduleMonthly,
			DayOfMonth: *raw.DayOfMonth,
			StartDate:  raw.StartDate.UTC(),
			EndDate:    raw.EndDate.UTC(),
		}
	default:
		return fmt.Errorf("unknown schedule frequency %q", disc)
	}
	return nil
}

// Validate enforces the schedule invariants:
//   - Weekly/Monthly: StartDate <= EndDate
//   - Monthly: DayOfMonth in [1,31]
//   - Weekly: DaysOfWeek non-empty, every entry a valid weekday name
func (s Schedule) Validate() error {
	switch s.Kind {
	case ScheduleOnce:
		if s.ExecutionDate.IsZero() {
			return fmt.Errorf("executionDate is required")
		}
		return nil
	case ScheduleWeekly:
		if err := validateWindow(s.StartDate, s.EndDate); err != nil {
			return err
		}
		if len(s.DaysOfWeek) == 0 {
			return fmt.Errorf("daysOfWeek must not be empty")
		}
		for _, name := range s.DaysOfWeek {
			if _, ok := ParseWeekday(name); !ok {
				return fmt.Errorf("invalid weekday %q", name)
			}
		}
		return nil
	case ScheduleMonthly:
		if err := validateWindow(s.StartDate, s.EndDate); err != nil {
			return err
		}
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("dayOfMonth must be between 1 and 31, got %d", s.DayOfMonth)
		}
		return nil
	default:
		return fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

func validateWindow(start, end time.Time) error {
	if start.IsZero() || end.IsZero() {
		return fmt.Errorf("startDate and endDate are required")
	}
	if start.After(end) {
		return fmt.Errorf("startDate must not be after endDate")
	}
	return nil
}

// Beneficiary identifies the receiving party of a payment.
type Beneficiary struct {
	Name string `json:"name" validate:"required"`
	IBAN string `json:"iban" validate:"required"`
}

// Amount is a monetary value with its currency code.
type Amount struct {
	Value    float64 `json:"value" validate:"required,gt=0"`
	Currency string  `json:"currency" validate:"required"`
}

// ScheduledPayment is the durable payment instruction document. The store is
// the sole owner of this state; the engine never caches copies across
// scanner ticks.
//
// AuthToken is the opaque credential captured from the creating request and
// replayed on execution. It is never serialized to API clients.
type ScheduledPayment struct {
	ID              string      `json:"id"`
	AccountID       string      `json:"accountId"`
	Description     string      `json:"description"`
	Beneficiary     Beneficiary `json:"beneficiary"`
	Amount          Amount      `json:"amount"`
	Schedule        Schedule    `json:"schedule"`
	IsActive        bool        `json:"isActive"`
	LastExecutionAt *time.Time  `json:"lastExecutionAt,omitempty"`
	AuthToken       string      `json:"-"`
	CreatedAt       time.Time   `json:"createdAt,omitzero"`
	UpdatedAt       time.Time   `json:"updatedAt,omitzero"`
}

// Validate checks the document invariants beyond struct-tag validation.
func (p *ScheduledPayment) Validate() error {
	if p.AccountID == "" {
		return fmt.Errorf("accountId is required")
	}
	if p.Beneficiary.IBAN == "" {
		return fmt.Errorf("beneficiary.iban is required")
	}
	if p.Amount.Value <= 0 {
		return fmt.Errorf("amount.value must be greater than zero")
	}
	if p.Amount.Currency == "" {
		return fmt.Errorf("amount.currency is required")
	}
	return p.Schedule.Validate()
}

// PaymentUpdate carries the fields of a partial update. Nil fields are left
// untouched; isActive and lastExecutionAt are deliberately absent -- they are
// mutated only through the store's MarkExecuted operation.
type PaymentUpdate struct {
	AccountID   *string      `json:"accountId,omitempty"`
	Description *string      `json:"description,omitempty"`
	Beneficiary *Beneficiary `json:"beneficiary,omitempty"`
	Amount      *Amount      `json:"amount,omitempty"`
	Schedule    *Schedule    `json:"schedule,omitempty"`
}

// IsEmpty reports whether the update would change nothing.
func (u PaymentUpdate) IsEmpty() bool {
	return u.AccountID == nil && u.Description == nil && u.Beneficiary == nil &&
		u.Amount == nil && u.Schedule == nil
}

// TransferRequest is the outbound payload sent to the transfers service for
// one due payment.
type TransferRequest struct {
	Sender   string  `json:"sender"`
	Receiver string  `json:"receiver"`
	Quantity float64 `json:"quantity"`
	Currency string  `json:"currency"`
}

// UpcomingPayment augments a payment with its computed next firing time for
// the upcoming-preview query.
type UpcomingPayment struct {
	*ScheduledPayment
	NextOccurrence time.Time `json:"nextOccurrence"`
}
