package validation

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	tests := []struct {
		name    string
		email   string
		wantErr bool
	}{
		{"valid email", "user@example.com", false},
		{"valid email with subdomain", "user@mail.example.com", false},
		{"empty email", "", true},
		{"invalid format", "invalid-email", true},
		{"missing @", "userexample.com", true},
		{"too long", strings.Repeat("a", 250) + "@example.com", true},
		{"valid with plus", "user+tag@example.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEmail(tt.email)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEmail() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		dispName string
		wantErr  bool
	}{
		{"valid name", "Alice", false},
		{"valid with space", "Alice Smith", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 81), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDisplayName(tt.dispName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateDisplayName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMeetingCode(t *testing.T) {
	tests := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"valid code", "abc-defg-hij", false},
		{"empty", "", true},
		{"wrong shape", "abcdefghij", true},
		{"uppercase", "ABC-DEFG-HIJ", true},
		{"wrong group lengths", "ab-defg-hij", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMeetingCode(tt.code)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMeetingCode() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateMeetingTitle(t *testing.T) {
	tests := []struct {
		name    string
		title   string
		wantErr bool
	}{
		{"valid title", "Weekly sync", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 201), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateMeetingTitle(tt.title)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateMeetingTitle() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateChatContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid message", "hello everyone", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 2001), true},
		{"max length", strings.Repeat("a", 2000), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChatContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateChatContent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateQuestionContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"valid question", "What about the roadmap?", false},
		{"empty", "", true},
		{"whitespace only", "   ", true},
		{"too long", strings.Repeat("a", 1001), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateQuestionContent(tt.content)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateQuestionContent() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBreakoutName(t *testing.T) {
	tests := []struct {
		name     string
		roomName string
		wantErr  bool
	}{
		{"valid name", "Room A", false},
		{"empty", "", true},
		{"too long", strings.Repeat("a", 101), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBreakoutName(tt.roomName)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBreakoutName() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBreakoutRoomCount(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		wantErr bool
	}{
		{"minimum", 1, false},
		{"maximum", 20, false},
		{"too low", 0, true},
		{"too high", 21, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBreakoutRoomCount(tt.count)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBreakoutRoomCount() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateBreakoutDurationMinutes(t *testing.T) {
	tests := []struct {
		name    string
		minutes int
		wantErr bool
	}{
		{"minimum", 1, false},
		{"maximum", 120, false},
		{"too low", 0, true},
		{"too high", 121, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateBreakoutDurationMinutes(tt.minutes)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateBreakoutDurationMinutes() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid http", "http://example.com", false},
		{"valid https", "https://example.com", false},
		{"valid ws", "ws://example.com", false},
		{"valid wss", "wss://example.com", false},
		{"empty", "", true},
		{"invalid scheme", "ftp://example.com", true},
		{"no host", "http://", true},
		{"invalid format", "not-a-url", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
