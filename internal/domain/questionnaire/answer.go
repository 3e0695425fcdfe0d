package questionnaire

import (
	"time"
)

// Answer is the value of a response item. It is one of BoolAnswer,
// DecimalAnswer, IntegerAnswer, StringAnswer, DateAnswer or DateTimeAnswer;
// an unanswered item has a nil Answer.
type Answer interface {
	// fhirValue returns the valueX key and its JSON value.
	fhirValue() (string, interface{})
}

type BoolAnswer bool

type DecimalAnswer float64

type IntegerAnswer int32

type StringAnswer string

// DateAnswer holds a calendar date; the time of day is ignored.
type DateAnswer struct{ Date time.Time }

type DateTimeAnswer struct{ At time.Time }

func (a BoolAnswer) fhirValue() (string, interface{})    { return "valueBoolean", bool(a) }
func (a DecimalAnswer) fhirValue() (string, interface{}) { return "valueDecimal", float64(a) }
func (a IntegerAnswer) fhirValue() (string, interface{}) { return "valueInteger", int32(a) }
func (a StringAnswer) fhirValue() (string, interface{})  { return "valueString", string(a) }
func (a DateAnswer) fhirValue() (string, interface{}) {
	return "valueDate", a.Date.Format(DateLayout)
}
func (a DateTimeAnswer) fhirValue() (string, interface{}) {
	return "valueDateTime", a.At.UTC().Format(time.RFC3339)
}

// answerColumns spreads an answer over the sparse storage columns; at most one
// of the returned pointers is non-nil.
type answerColumns struct {
	Boolean  *bool
	Decimal  *float64
	Integer  *int32
	String   *string
	Date     *time.Time
	DateTime *time.Time
}

func toColumns(a Answer) answerColumns {
	var c answerColumns
	switch v := a.(type) {
	case BoolAnswer:
		b := bool(v)
		c.Boolean = &b
	case DecimalAnswer:
		d := float64(v)
		c.Decimal = &d
	case IntegerAnswer:
		i := int32(v)
		c.Integer = &i
	case StringAnswer:
		s := string(v)
		c.String = &s
	case DateAnswer:
		d := v.Date
		c.Date = &d
	case DateTimeAnswer:
		t := v.At
		c.DateTime = &t
	}
	return c
}

func (c answerColumns) answer() Answer {
	switch {
	case c.Boolean != nil:
		return BoolAnswer(*c.Boolean)
	case c.Decimal != nil:
		return DecimalAnswer(*c.Decimal)
	case c.Integer != nil:
		return IntegerAnswer(*c.Integer)
	case c.String != nil:
		return StringAnswer(*c.String)
	case c.Date != nil:
		return DateAnswer{Date: *c.Date}
	case c.DateTime != nil:
		return DateTimeAnswer{At: *c.DateTime}
	}
	return nil
}
