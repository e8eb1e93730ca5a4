package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	// EmailRegex validates email format
	EmailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

	// MeetingCodeRegex validates the three-group lowercase meeting code.
	MeetingCodeRegex = regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)
)

// ValidateEmail validates email address
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email is too long (max 254 characters)")
	}
	if !EmailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format")
	}
	return nil
}

// ValidateDisplayName validates a participant's display name.
func ValidateDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}
	if utf8.RuneCountInString(name) > 80 {
		return fmt.Errorf("display name is too long (max 80 characters)")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("display name contains invalid characters")
	}
	return nil
}

// ValidateMeetingCode validates the aaa-aaaa-aaa meeting join code.
func ValidateMeetingCode(code string) error {
	if code == "" {
		return fmt.Errorf("meeting code is required")
	}
	if !MeetingCodeRegex.MatchString(code) {
		return fmt.Errorf("invalid meeting code format")
	}
	return nil
}

// ValidateMeetingTitle validates a meeting title.
func ValidateMeetingTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("meeting title is required")
	}
	if utf8.RuneCountInString(title) > 200 {
		return fmt.Errorf("meeting title is too long (max 200 characters)")
	}
	return nil
}

// ValidateChatContent validates a chat message body.
func ValidateChatContent(content string) error {
	if content == "" {
		return fmt.Errorf("chat message is required")
	}
	if utf8.RuneCountInString(content) > 2000 {
		return fmt.Errorf("chat message is too long (max 2000 characters)")
	}
	return nil
}

// ValidateQuestionContent validates a Q&A question body.
func ValidateQuestionContent(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("question is required")
	}
	if utf8.RuneCountInString(content) > 1000 {
		return fmt.Errorf("question is too long (max 1000 characters)")
	}
	return nil
}

// ValidateBreakoutName validates a breakout room name.
func ValidateBreakoutName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("breakout room name is required")
	}
	if utf8.RuneCountInString(name) > 100 {
		return fmt.Errorf("breakout room name is too long (max 100 characters)")
	}
	return nil
}

// ValidateBreakoutRoomCount validates the number of rooms requested in a split.
func ValidateBreakoutRoomCount(count int) error {
	if count < 1 {
		return fmt.Errorf("breakout room count must be at least 1")
	}
	if count > 20 {
		return fmt.Errorf("breakout room count is too high (max 20)")
	}
	return nil
}

// ValidateBreakoutDurationMinutes validates the auto-close timer length.
func ValidateBreakoutDurationMinutes(minutes int) error {
	if minutes < 1 {
		return fmt.Errorf("breakout duration must be at least 1 minute")
	}
	if minutes > 120 {
		return fmt.Errorf("breakout duration is too long (max 120 minutes)")
	}
	return nil
}

// ValidateURL validates URL format
func ValidateURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid URL format: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" && u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid URL scheme (must be http, https, ws, or wss)")
	}
	if u.Host == "" {
		return fmt.Errorf("URL must have a host")
	}
	return nil
}

// ValidateNonEmptyString validates that string is not empty after trimming
func ValidateNonEmptyString(s, fieldName string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return fmt.Errorf("%s is required", fieldName)
	}
	return nil
}

// ValidateStringLength validates string length
func ValidateStringLength(s string, min, max int, fieldName string) error {
	length := utf8.RuneCountInString(s)
	if length < min {
		return fmt.Errorf("%s must be at least %d characters", fieldName, min)
	}
	if length > max {
		return fmt.Errorf("%s is too long (max %d characters)", fieldName, max)
	}
	return nil
}
