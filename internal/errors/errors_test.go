package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")

	err := New(Unauthorized, "API key rejected", cause)

	if err.Code != Unauthorized {
		t.Errorf("Code = %v, want %v", err.Code, Unauthorized)
	}
	if err.Message != "API key rejected" {
		t.Errorf("Message = %q, want %q", err.Message, "API key rejected")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestGrantError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      TransportFailed,
			message:   "page 3",
			cause:     errors.New("connection refused"),
			wantParts: []string{"TRANSPORT_FAILED", "page 3", "connection refused"},
		},
		{
			name:      "without cause",
			code:      UnrecognizedShape,
			message:   "no submissions",
			cause:     nil,
			wantParts: []string{"UNRECOGNIZED_SHAPE", "no submissions"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()
			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestGrantError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(CacheFailed, "open cache", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	if New(CacheFailed, "no cause", nil).Unwrap() != nil {
		t.Error("Unwrap() without cause should be nil")
	}
}

func TestGrantError_WithDetails(t *testing.T) {
	err := Newf(MalformedResponse, "page %d", 2).WithDetails(map[string]int{"status": 200})
	if err.Message != "page 2" {
		t.Errorf("Message = %q, want %q", err.Message, "page 2")
	}
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", New(OutputFailed, "x", nil), OutputFailed},
		{"wrapped", fmt.Errorf("export: %w", New(Unauthorized, "x", nil)), Unauthorized},
		{"plain", errors.New("boom"), InternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{New(TransportFailed, "x", nil), true},
		{New(Unauthorized, "x", nil), true},
		{New(MalformedResponse, "x", nil), true},
		{errors.New("dial tcp: timeout"), true},
		{New(ConfigInvalid, "x", nil), false},
		{New(OutputFailed, "x", nil), false},
	}
	for _, tt := range tests {
		if got := IsRetryable(tt.err); got != tt.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	if fixes := GetSuggestedFixes(Unauthorized); len(fixes) == 0 || fixes[0].Variable != "GRANTCSV_API_KEY" {
		t.Errorf("GetSuggestedFixes(Unauthorized) = %+v", fixes)
	}
	if fixes := GetSuggestedFixes(InternalError); fixes != nil {
		t.Errorf("GetSuggestedFixes(InternalError) = %+v, want nil", fixes)
	}
}
