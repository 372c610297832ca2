// Package moderation detects contact information in outbound chat text.
package moderation

import (
	"regexp"
	"strings"
)

// Severity ranks how strongly a match indicates an attempt to move contact off-platform.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityInformational
	SeverityWarning
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityNone:          "none",
	SeverityInformational: "informational",
	SeverityWarning:       "warning",
	SeverityHigh:          "high",
	SeverityCritical:      "critical",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "unknown"
}

// MarshalText renders the severity name.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name.
func (s *Severity) UnmarshalText(text []byte) error {
	*s = ParseSeverity(string(text))
	return nil
}

// ParseSeverity maps a name back to a Severity. Unknown names resolve to SeverityNone.
func ParseSeverity(raw string) Severity {
	raw = strings.ToLower(strings.TrimSpace(raw))
	for sev, name := range severityNames {
		if name == raw {
			return sev
		}
	}
	return SeverityNone
}

// Result is the outcome of Detect.
type Result struct {
	Detected        bool     `json:"detected"`
	Severity        Severity `json:"severity"`
	MatchedPatterns []string `json:"matched_patterns"`
}

// Blocks reports whether the text must not be sent.
func (r Result) Blocks() bool {
	return r.Detected && r.Severity > SeverityInformational
}

type rule struct {
	name     string
	severity Severity
	match    func(normalized string) bool
}

func regexRule(name string, severity Severity, expr string) rule {
	re := regexp.MustCompile(expr)
	return rule{name: name, severity: severity, match: re.MatchString}
}

var digitWords = []string{
	"zero", "oh", "one", "two", "three", "four", "five", "six", "seven", "eight", "nine",
}

var rules = []rule{
	{name: "phone_number", severity: SeverityCritical, match: hasPhoneNumber},
	regexRule("email", SeverityCritical, `[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`),
	regexRule("obfuscated_email", SeverityCritical, `[a-z0-9._%+\-]+\s*(?:\[at\]|\(at\)|\sat\s)\s*[a-z0-9\-]+\s*(?:\[dot\]|\(dot\)|\sdot\s)\s*[a-z]{2,}\b`),
	{name: "spelled_digits", severity: SeverityHigh, match: hasSpelledDigitRun},
	regexRule("url", SeverityHigh, `(?:https?://|www\.)\S+|\b[a-z0-9\-]+\.(?:com|net|org|io|me|ly|co|gg|app)\b`),
	regexRule("social_handle", SeverityWarning, `(?:^|\s)@[a-z0-9_.]{3,}`),
	regexRule("messaging_app", SeverityWarning, `\b(?:whatsapp|telegram|signal app|snapchat|instagram|insta|discord|wechat|kakaotalk|skype|facebook|messenger|tiktok)\b`),
	regexRule("contact_phrase", SeverityInformational, `\b(?:contact me|reach me|call me|text me|dm me|message me|add me|find me on|my number|my email)\b`),
}

var (
	// phoneCandidate is a digit run that may be broken up by common separators.
	phoneCandidate = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{6,}\d`)
	// calendarPart matches ISO dates and clock times, which are blanked before scanning.
	calendarPart  = regexp.MustCompile(`\b\d{4}-\d{1,2}-\d{1,2}\b|\b\d{1,2}:\d{2}(?::\d{2})?\b`)
	decimalNumber = regexp.MustCompile(`^\d+\.\d{5,}$`)
)

// hasPhoneNumber accepts 10 to 15 digits, or 8 and more behind an international prefix.
// Dates, clock times and long decimal fractions never count.
func hasPhoneNumber(normalized string) bool {
	normalized = calendarPart.ReplaceAllString(normalized, " ; ")
	for _, candidate := range phoneCandidate.FindAllString(normalized, -1) {
		if decimalNumber.MatchString(candidate) {
			continue
		}
		digits := 0
		for _, r := range candidate {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits >= 10 && digits <= 15 {
			return true
		}
		if strings.HasPrefix(candidate, "+") && digits >= 8 && digits <= 15 {
			return true
		}
	}
	return false
}

// Detect scans text for contact information. It is pure and safe for concurrent use.
func Detect(text string) Result {
	normalized := strings.ToLower(strings.TrimSpace(text))
	if normalized == "" {
		return Result{Severity: SeverityNone}
	}

	res := Result{Severity: SeverityNone}
	for _, r := range rules {
		if !r.match(normalized) {
			continue
		}
		res.Detected = true
		res.MatchedPatterns = append(res.MatchedPatterns, r.name)
		if r.severity > res.Severity {
			res.Severity = r.severity
		}
	}
	return res
}

// hasSpelledDigitRun finds seven or more consecutive digit words or digits, e.g.
// "five five five one two three four".
func hasSpelledDigitRun(normalized string) bool {
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return r == ' ' || r == '-' || r == ',' || r == '.' || r == '\t' || r == '\n'
	})

	run, words := 0, 0
	for _, field := range fields {
		switch {
		case isDigitWord(field):
			run++
			words++
		case isDigits(field):
			run += len(field)
		default:
			run, words = 0, 0
		}
		if run >= 7 && words >= 3 {
			return true
		}
	}
	return false
}

func isDigitWord(s string) bool {
	for _, w := range digitWords {
		if s == w {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
