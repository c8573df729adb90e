package telephony

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"callmerge/internal/events"
)

var (
	// ErrMalformedBody means the body could not be decoded at all.
	ErrMalformedBody = errors.New("telephony: malformed webhook body")
	// ErrInvalidPayload means the body decoded but a field is missing or out of range.
	ErrInvalidPayload = errors.New("telephony: invalid webhook payload")
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their wire names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// WebhookPayload is one leg transition as posted by the call-routing platform.
// The platform posts JSON by default; the same field names are accepted as a
// form-encoded body.
type WebhookPayload struct {
	CallID    string `json:"callId" validate:"required"`
	LegID     string `json:"legId"`
	Status    string `json:"status" validate:"required,oneof=ringing answered ended"`
	Direction string `json:"direction" validate:"omitempty,oneof=incoming outgoing"`

	SourceType   string `json:"sourceType" validate:"omitempty,oneof=external ivr huntgroup phone"`
	SourceName   string `json:"sourceName"`
	SourceNumber string `json:"sourceNumber"`

	DestinationType   string `json:"destinationType" validate:"omitempty,oneof=external ivr huntgroup phone"`
	DestinationName   string `json:"destinationName"`
	DestinationNumber string `json:"destinationNumber"`

	CalledNumber       string `json:"calledNumber"`
	CallerIDExternal   string `json:"callerIdExternal"`
	CallerNameExternal string `json:"callerNameExternal"`
	CallerIDInternal   string `json:"callerIdInternal"`
	CallerNameInternal string `json:"callerNameInternal"`

	EventTime     Timestamp `json:"eventTime"`
	CallStartTime Timestamp `json:"callStartTime"`
}

// Timestamp accepts RFC3339, "2006-01-02 15:04:05" (UTC) or unix seconds,
// as a JSON string or number. Empty and null decode to the zero time.
type Timestamp struct {
	time.Time
}

const platformLayout = "2006-01-02 15:04:05"

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	raw := string(b)
	if b[0] == '"' {
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("%w: timestamp: %v", ErrInvalidPayload, err)
		}
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	t.Time = parsed
	return nil
}

// ParseTimestamp parses one of the accepted timestamp forms.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.ParseInLocation(platformLayout, s, time.UTC); err == nil {
		return ts, nil
	}
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs <= 0 {
			return time.Time{}, nil
		}
		whole := int64(secs)
		nanos := int64((secs - float64(whole)) * float64(time.Second))
		return time.Unix(whole, nanos).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("%w: unrecognized timestamp %q", ErrInvalidPayload, s)
}

// ParseWebhookJSON decodes, normalizes and validates a JSON webhook body.
func ParseWebhookJSON(body []byte) (WebhookPayload, error) {
	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		if errors.Is(err, ErrInvalidPayload) {
			return WebhookPayload{}, err
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return WebhookPayload{}, fmt.Errorf("%w: field %s: expected %s", ErrInvalidPayload, typeErr.Field, typeErr.Type)
		}
		return WebhookPayload{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return p.normalized()
}

// ParseWebhookForm reads the same fields from a form-encoded body.
func ParseWebhookForm(body []byte) (WebhookPayload, error) {
	v, err := url.ParseQuery(string(body))
	if err != nil {
		return WebhookPayload{}, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	p := WebhookPayload{
		CallID:             v.Get("callId"),
		LegID:              v.Get("legId"),
		Status:             v.Get("status"),
		Direction:          v.Get("direction"),
		SourceType:         v.Get("sourceType"),
		SourceName:         v.Get("sourceName"),
		SourceNumber:       v.Get("sourceNumber"),
		DestinationType:    v.Get("destinationType"),
		DestinationName:    v.Get("destinationName"),
		DestinationNumber:  v.Get("destinationNumber"),
		CalledNumber:       v.Get("calledNumber"),
		CallerIDExternal:   v.Get("callerIdExternal"),
		CallerNameExternal: v.Get("callerNameExternal"),
		CallerIDInternal:   v.Get("callerIdInternal"),
		CallerNameInternal: v.Get("callerNameInternal"),
	}
	if p.EventTime.Time, err = ParseTimestamp(v.Get("eventTime")); err != nil {
		return WebhookPayload{}, err
	}
	if p.CallStartTime.Time, err = ParseTimestamp(v.Get("callStartTime")); err != nil {
		return WebhookPayload{}, err
	}
	return p.normalized()
}

var kindAliases = map[string]string{
	"hunt_group": string(events.KindHuntGroup),
	"hunt-group": string(events.KindHuntGroup),
	"extension":  string(events.KindPhone),
}

func normalizeEnum(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func normalizeKind(s string) string {
	s = normalizeEnum(s)
	return lo.ValueOr(kindAliases, s, s)
}

func (p WebhookPayload) normalized() (WebhookPayload, error) {
	p.CallID = strings.TrimSpace(p.CallID)
	p.LegID = strings.TrimSpace(p.LegID)
	p.Status = normalizeEnum(p.Status)
	p.Direction = normalizeEnum(p.Direction)
	p.SourceType = normalizeKind(p.SourceType)
	p.DestinationType = normalizeKind(p.DestinationType)
	p.SourceNumber = strings.TrimSpace(p.SourceNumber)
	p.DestinationNumber = strings.TrimSpace(p.DestinationNumber)
	p.CalledNumber = strings.TrimSpace(p.CalledNumber)
	p.CallerIDExternal = strings.TrimSpace(p.CallerIDExternal)
	p.CallerIDInternal = strings.TrimSpace(p.CallerIDInternal)

	if err := validate.Struct(p); err != nil {
		return WebhookPayload{}, validationError(err)
	}
	return p, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	msgs := lo.Map(verrs, func(fe validator.FieldError, _ int) string {
		if fe.Tag() == "required" {
			return fmt.Sprintf("%s is required", fe.Field())
		}
		return fmt.Sprintf("%s: rule '%s %s' rejected %q", fe.Field(), fe.Tag(), fe.Param(), fe.Value())
	})
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
}

// ToCallEvent converts a validated payload. raw is the exact request body.
func (p WebhookPayload) ToCallEvent(raw []byte) events.CallEvent {
	return events.CallEvent{
		CallID:    p.CallID,
		LegID:     p.LegID,
		Status:    events.Status(p.Status),
		Direction: events.Direction(p.Direction),
		Source: events.Party{
			Kind:   events.PartyKind(p.SourceType),
			Name:   p.SourceName,
			Number: p.SourceNumber,
		},
		Dest: events.Party{
			Kind:   events.PartyKind(p.DestinationType),
			Name:   p.DestinationName,
			Number: p.DestinationNumber,
		},
		CalledNumber:       p.CalledNumber,
		CallerIDExternal:   p.CallerIDExternal,
		CallerNameExternal: p.CallerNameExternal,
		CallerIDInternal:   p.CallerIDInternal,
		CallerNameInternal: p.CallerNameInternal,
		EventTime:          p.EventTime.Time,
		CallStartTime:      p.CallStartTime.Time,
		RawPayload:         string(raw),
	}
}
