package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestCreateExchangeRequest_Valid(t *testing.T) {
	v := New()

	req := CreateExchangeRequest{
		SenderID:   "alice",
		ReceiverID: "bob",
		BookID:     "dune",
		Comment:    "mine has a coffee stain",
	}

	if err := v.Struct(req); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateExchangeRequest_SelfRequest(t *testing.T) {
	v := New()

	req := CreateExchangeRequest{SenderID: "alice", ReceiverID: "alice", BookID: "dune"}

	err := v.Struct(req)
	if err == nil {
		t.Fatal("expected validation error for request to oneself, got nil")
	}
	if got := FieldErrors(err)["receiver_id"]; got != "differs_from_sender" {
		t.Fatalf("expected receiver_id differs_from_sender, got %q", got)
	}
}

func TestCreateExchangeRequest_MissingFields(t *testing.T) {
	v := New()

	err := v.Struct(CreateExchangeRequest{})
	if err == nil {
		t.Fatal("expected validation errors for missing required fields, got nil")
	}

	fields := FieldErrors(err)
	for _, name := range []string{"sender_id", "receiver_id", "book_id"} {
		if fields[name] != "required" {
			t.Errorf("expected %s required, got %q", name, fields[name])
		}
	}
}

func TestTrackRequest_Blank(t *testing.T) {
	v := New()

	err := v.Struct(TrackRequest{MemberID: "alice", Track: "   "})
	if err == nil {
		t.Fatal("expected blank track to fail")
	}
	if got := FieldErrors(err)["track"]; got != "notblank" {
		t.Fatalf("expected track notblank, got %q", got)
	}

	if err := v.Struct(TrackRequest{MemberID: "alice", Track: "RR123456785LV"}); err != nil {
		t.Fatalf("expected valid, got error: %v", err)
	}
}

func TestCreateMemberRequest_Email(t *testing.T) {
	v := New()

	if err := v.Struct(CreateMemberRequest{Name: "Alice"}); err != nil {
		t.Fatalf("email is optional, got error: %v", err)
	}
	if err := v.Struct(CreateMemberRequest{Name: "Alice", Email: "not-an-email"}); err == nil {
		t.Fatal("expected invalid email to fail")
	}
}

func TestBindAndValidate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v := New()

	tests := []struct {
		name      string
		body      string
		wantErr   bool
		wantCode  int
		wantError string
	}{
		{"valid", `{"actor_id":"bob","chosen_book_id":"solaris"}`, false, http.StatusOK, ""},
		{"malformed", `{"actor_id":`, true, http.StatusBadRequest, "invalid_request_body"},
		{"missing field", `{"actor_id":"bob"}`, true, http.StatusBadRequest, "validation_failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodPost, "/requests/r1/accept", strings.NewReader(tt.body))
			c.Request.Header.Set("Content-Type", "application/json")

			var req AcceptRequest
			err := BindAndValidate(c, &req, v)
			if (err != nil) != tt.wantErr {
				t.Fatalf("BindAndValidate error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if w.Code != tt.wantCode {
					t.Errorf("expected status %d, got %d", tt.wantCode, w.Code)
				}
				if !strings.Contains(w.Body.String(), tt.wantError) {
					t.Errorf("expected body to contain %q, got %s", tt.wantError, w.Body.String())
				}
			}
		})
	}
}
