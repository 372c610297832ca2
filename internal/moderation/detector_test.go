package moderation

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectPhoneNumbers(t *testing.T) {
	for _, text := range []string{
		"call 5551234567 after class",
		"my cell is 555-123-4567",
		"(555) 123 4567",
		"+44 20 7946 0958",
		"555.123.4567",
		"on 2026-10-16 at 10:30 call 555-123-4567",
	} {
		res := Detect(text)
		require.True(t, res.Detected, text)
		require.GreaterOrEqual(t, res.Severity, SeverityWarning, text)
		require.Contains(t, res.MatchedPatterns, "phone_number", text)
		require.True(t, res.Blocks(), text)
	}
}

func TestDetectEmails(t *testing.T) {
	for _, text := range []string{
		"ping me at jane.doe@example.com",
		"jane at gmail dot com",
		"jane[at]gmail[dot]com",
	} {
		res := Detect(text)
		require.True(t, res.Detected, text)
		require.Equal(t, SeverityCritical, res.Severity, text)
	}
}

func TestDetectSeverityLadder(t *testing.T) {
	cases := []struct {
		text     string
		severity Severity
		pattern  string
	}{
		{text: "five five five one two three four", severity: SeverityHigh, pattern: "spelled_digits"},
		{text: "see www.tutorfree.net", severity: SeverityHigh, pattern: "url"},
		{text: "find me on whatsapp", severity: SeverityWarning, pattern: "messaging_app"},
		{text: "follow @jane_doe", severity: SeverityWarning, pattern: "social_handle"},
		{text: "feel free to contact me during office hours", severity: SeverityInformational, pattern: "contact_phrase"},
	}
	for _, tc := range cases {
		res := Detect(tc.text)
		require.True(t, res.Detected, tc.text)
		require.Equal(t, tc.severity, res.Severity, tc.text)
		require.Contains(t, res.MatchedPatterns, tc.pattern, tc.text)
	}
}

func TestInformationalDoesNotBlock(t *testing.T) {
	res := Detect("Please contact me if the homework is unclear")
	require.True(t, res.Detected)
	require.False(t, res.Blocks())
}

func TestCleanText(t *testing.T) {
	for _, text := range []string{
		"",
		"   ",
		"What is 12 times 12?",
		"The answer is 3.14159",
		"I was at home, not at school",
		"Chapter 4 starts on page 212",
		"class on 2026-10-16 10:30 ok",
		"pi is about 3.14159265358",
		"quiz 2026-10-16 from 09:15:00 to 10:45",
	} {
		res := Detect(text)
		require.False(t, res.Detected, text)
		require.Equal(t, SeverityNone, res.Severity, text)
		require.False(t, res.Blocks(), text)
	}
}

func TestSeverityNames(t *testing.T) {
	require.Equal(t, "critical", SeverityCritical.String())
	require.Equal(t, SeverityWarning, ParseSeverity(" Warning "))
	require.Equal(t, SeverityNone, ParseSeverity("bogus"))

	text, err := SeverityHigh.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "high", string(text))
}

func TestDispatchIsBestEffort(t *testing.T) {
	var calls atomic.Int32
	failing := ReporterFunc(func(context.Context, ViolationReport) error {
		calls.Add(1)
		return errors.New("audit service down")
	})

	<-Dispatch(failing, ViolationReport{SessionID: "s1", ParticipantID: "alice", Severity: SeverityCritical})
	require.Equal(t, int32(1), calls.Load())

	<-Dispatch(nil, ViolationReport{SessionID: "s1"})
}
