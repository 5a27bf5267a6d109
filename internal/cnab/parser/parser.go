// Package parser decodes fixed-width CNAB transaction lines into
// model.TransactionRecord values. The parser is pure: same bytes in, same
// record or error out, no I/O.
package parser

import (
	"strconv"
	"strings"
	"time"

	"github.com/cnabflow/ingestor/internal/cnab/model"
)

// LineWidth is the fixed byte length of one CNAB record.
const LineWidth = 80

const (
	offsetType  = 0
	lenType     = 1
	offsetDate  = 1
	lenDate     = 8
	offsetAmt   = 9
	lenAmt      = 10
	offsetCPF   = 19
	lenCPF      = 11
	offsetCard  = 30
	lenCard     = 12
	offsetTime  = 42
	lenTime     = 6
	offsetOwner = 48
	lenOwner    = 14
	offsetName  = 62
	lenName     = 18
)

// ErrorKind enumerates the parser's structured failure modes.
type ErrorKind string

const (
	ErrLineTooShort ErrorKind = "line_too_short"
	ErrInvalidType  ErrorKind = "invalid_type"
	ErrInvalidDate  ErrorKind = "invalid_date"
	ErrInvalidAmount ErrorKind = "invalid_amount"
	ErrInvalidTime  ErrorKind = "invalid_time"
)

// ParseError is returned when a line fails to decode. LineIndex is the
// caller-supplied zero-based index of the offending line within its file.
type ParseError struct {
	Kind      ErrorKind
	LineIndex int
	Detail    string
}

func (e *ParseError) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	return string(e.Kind)
}

func newErr(kind ErrorKind, lineIndex int, detail string) *ParseError {
	return &ParseError{Kind: kind, LineIndex: lineIndex, Detail: detail}
}

// Parse decodes a single raw line (the trailing line terminator, if any,
// must already be stripped by the caller) into a TransactionRecord.
// lineIndex is the zero-based position of this line within its source file,
// used only to tag any returned ParseError.
func Parse(line []byte, lineIndex int) (model.TransactionRecord, error) {
	if len(line) < LineWidth {
		return model.TransactionRecord{}, newErr(ErrLineTooShort, lineIndex, "")
	}

	typeByte := line[offsetType]
	t := model.TransactionType(typeByte)
	if !t.Valid() {
		return model.TransactionRecord{}, newErr(ErrInvalidType, lineIndex, string(typeByte))
	}

	dateField := string(line[offsetDate : offsetDate+lenDate])
	date, ok := parseDate(dateField)
	if !ok {
		return model.TransactionRecord{}, newErr(ErrInvalidDate, lineIndex, dateField)
	}

	amtField := string(line[offsetAmt : offsetAmt+lenAmt])
	amount, ok := parseAmount(amtField)
	if !ok {
		return model.TransactionRecord{}, newErr(ErrInvalidAmount, lineIndex, amtField)
	}

	cpf := string(line[offsetCPF : offsetCPF+lenCPF])
	card := string(line[offsetCard : offsetCard+lenCard])

	timeField := string(line[offsetTime : offsetTime+lenTime])
	dur, ok := parseTime(timeField)
	if !ok {
		return model.TransactionRecord{}, newErr(ErrInvalidTime, lineIndex, timeField)
	}

	owner := strings.TrimRight(string(line[offsetOwner:offsetOwner+lenOwner]), " ")
	name := strings.TrimRight(string(line[offsetName:offsetName+lenName]), " ")

	return model.TransactionRecord{
		Type:            t,
		TransactionDate: date,
		TransactionTime: dur,
		AmountCents:     amount,
		CPF:             cpf,
		Card:            card,
		StoreOwner:      owner,
		StoreName:       name,
		BankCode:        string(typeByte),
	}, nil
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return len(s) > 0
}

// parseDate parses an 8-digit YYYYMMDD field and validates it names a real
// calendar date (rejecting e.g. 20190231).
func parseDate(s string) (time.Time, bool) {
	if len(s) != lenDate || !allDigits(s) {
		return time.Time{}, false
	}
	year, _ := strconv.Atoi(s[0:4])
	month, _ := strconv.Atoi(s[4:6])
	day, _ := strconv.Atoi(s[6:8])
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflowed days/months; reject anything that
	// didn't round-trip, since that means the calendar date doesn't exist.
	if date.Year() != year || int(date.Month()) != month || date.Day() != day {
		return time.Time{}, false
	}
	return date, true
}

// parseAmount parses a 10-digit integer-cents field.
func parseAmount(s string) (int64, bool) {
	if len(s) != lenAmt || !allDigits(s) {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// parseTime parses a 6-digit HHMMSS field into a duration since midnight.
// Per the documented quirk, every component is unbounded: only the length
// and digit-ness of the field are validated, so "999999" parses cleanly
// into a 99h99m99s duration rather than being rejected.
func parseTime(s string) (time.Duration, bool) {
	if len(s) != lenTime || !allDigits(s) {
		return 0, false
	}
	h, _ := strconv.Atoi(s[0:2])
	m, _ := strconv.Atoi(s[2:4])
	sec, _ := strconv.Atoi(s[4:6])
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second, true
}
