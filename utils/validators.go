package utils

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Validation constants shared with the API layer.
const (
	MaxTextLength = 1000
	MinAge        = 0
	MaxAge        = 120
)

var (
	htmlTagRe     = regexp.MustCompile(`<[^>]*>`)
	controlRe     = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
	entityRe      = regexp.MustCompile(`&(amp|lt|gt|quot|#34|#39);`)
	placeholderRe = regexp.MustCompile("\x01(amp|lt|gt|quot|#34|#39)\x01")
	jsSchemeRe    = regexp.MustCompile(`(?i)javascript:`)
	jsHandlerRe   = regexp.MustCompile(`(?i)on\w+\s*=`)

	cpfRe  = regexp.MustCompile(`^([0-9]{3}\.){2}[0-9]{3}-[0-9]{2}$`)
	dateRe = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12]\d|3[01])$`)
)

// SanitizeText cleans free-form input before it is handed to the analyzer or
// stored in risk-factor descriptions. The pipeline is fixed: strip HTML tags,
// entity-escape the remaining special characters, remove javascript: and on*=
// attribute patterns, collapse whitespace, trim. The function is total (empty
// in, empty out) and idempotent: sanitizing sanitized text is a no-op.
func SanitizeText(text string) string {
	if text == "" {
		return ""
	}

	text = controlRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")

	// Entities produced by a previous pass are parked behind placeholders so
	// escaping does not double-encode their ampersands.
	text = entityRe.ReplaceAllString(text, "\x01$1\x01")
	text = html.EscapeString(text)
	text = placeholderRe.ReplaceAllString(text, "&$1;")

	// Removal can splice two halves of a pattern together, so repeat until the
	// text stops changing.
	for {
		stripped := jsSchemeRe.ReplaceAllString(text, "")
		stripped = jsHandlerRe.ReplaceAllString(stripped, "")
		if stripped == text {
			break
		}
		text = stripped
	}

	return strings.Join(strings.Fields(text), " ")
}

// ValidateTextResponse applies the generic guards for free-text answers:
// presence and the global length cap.
func ValidateTextResponse(text string) (bool, string) {
	if strings.TrimSpace(text) == "" {
		return false, "Text response is required"
	}
	if len(text) > MaxTextLength {
		return false, fmt.Sprintf("Text exceeds the maximum length of %d characters", MaxTextLength)
	}
	return true, ""
}

// ValidateCPF checks a Brazilian CPF number: format, length, known invalid
// sequences and both check digits.
func ValidateCPF(cpf string) (bool, string) {
	if cpf == "" {
		return false, "CPF is required"
	}
	if !cpfRe.MatchString(cpf) {
		return false, "Invalid CPF format. Use XXX.XXX.XXX-XX"
	}

	digits := make([]int, 0, 11)
	for _, r := range cpf {
		if r >= '0' && r <= '9' {
			digits = append(digits, int(r-'0'))
		}
	}
	if len(digits) != 11 {
		return false, "CPF must contain 11 digits"
	}

	allSame := true
	for _, d := range digits[1:] {
		if d != digits[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return false, "Invalid CPF"
	}

	if digits[9] != cpfCheckDigit(digits[:9], 10) {
		return false, "Invalid CPF"
	}
	if digits[10] != cpfCheckDigit(digits[:10], 11) {
		return false, "Invalid CPF"
	}
	return true, ""
}

func cpfCheckDigit(digits []int, weight int) int {
	sum := 0
	for _, d := range digits {
		sum += d * weight
		weight--
	}
	return (sum * 10 % 11) % 10
}

// ValidateDate checks an ISO date string: format, calendar validity and that
// the date is not in the future.
func ValidateDate(date string) (bool, string) {
	if date == "" {
		return false, "Date is required"
	}
	if !dateRe.MatchString(date) {
		return false, "Invalid date format. Use YYYY-MM-DD"
	}

	parts := strings.SplitN(date, "-", 3)
	year, _ := strconv.Atoi(parts[0])
	month, _ := strconv.Atoi(parts[1])
	day, _ := strconv.Atoi(parts[2])

	parsed := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if parsed.Year() != year || parsed.Month() != time.Month(month) || parsed.Day() != day {
		return false, "Invalid day for the given month"
	}
	if parsed.After(time.Now()) {
		return false, "Date cannot be in the future"
	}
	return true, ""
}

// AgeFromBirthdate returns the age in whole years for a YYYY-MM-DD birthdate
// and whether it falls inside the accepted range.
func AgeFromBirthdate(birthdate string) (int, bool) {
	if ok, _ := ValidateDate(birthdate); !ok {
		return 0, false
	}
	parsed, err := time.Parse("2006-01-02", birthdate)
	if err != nil {
		return 0, false
	}
	now := time.Now()
	age := now.Year() - parsed.Year()
	if now.YearDay() < parsed.YearDay() {
		age--
	}
	return age, age >= MinAge && age <= MaxAge
}
