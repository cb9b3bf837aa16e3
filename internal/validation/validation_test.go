package validation

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr  string
		valid bool
	}{
		{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", true},
		{"", true}, // optional unless Required

		{"TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6u", false}, // bad checksum
		{"0x1234567890123456789012345678901234567890", false},
		{"TR7NHqjeKQxGTCi8q8ZY4pL8", false},
	}

	for _, tc := range tests {
		err := ValidAddress("destination", tc.addr)()
		if (err == nil) != tc.valid {
			t.Errorf("ValidAddress(%q) = %v, want valid=%v", tc.addr, err, tc.valid)
		}
	}
}

func TestValidAmount(t *testing.T) {
	tests := []struct {
		value string
		valid bool
	}{
		{"1", true},
		{"12.5", true},
		{"0.000001", true},
		{"0", false},
		{"-1", false},
		{"0.0000001", false},
		{"1.2.3", false},
		{"abc", false},
	}

	for _, tc := range tests {
		err := ValidAmount("amount", tc.value)()
		if (err == nil) != tc.valid {
			t.Errorf("ValidAmount(%q) = %v, want valid=%v", tc.value, err, tc.valid)
		}
	}
}

func TestSanitizeString(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"hello", 10, "hello"},
		{"  hello  ", 10, "hello"},
		{"hello world", 5, "hello"},
		{"hello\x00world", 20, "helloworld"},
	}

	for _, tc := range tests {
		result := SanitizeString(tc.input, tc.maxLen)
		if result != tc.expected {
			t.Errorf("SanitizeString(%q, %d) = %q, want %q", tc.input, tc.maxLen, result, tc.expected)
		}
	}
}

func TestValidate_Collects(t *testing.T) {
	errs := Validate(
		Required("reference", ""),
		ValidReference("reference", "has space"),
		OneOf("payType", "btc", "trx", "usdt"),
		MaxLength("label", strings.Repeat("x", 300), MaxStringLength),
	)
	if len(errs) != 4 {
		t.Fatalf("expected 4 errors, got %d: %v", len(errs), errs)
	}
	if errs.Error() != "reference: is required" {
		t.Errorf("unexpected first error %q", errs.Error())
	}
	if len(Validate(OneOf("payType", "usdt", "trx", "usdt"))) != 0 {
		t.Error("usdt should be allowed")
	}
}

func TestRequestSizeMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/x", func(c *gin.Context) {
		var body map[string]any
		if err := c.ShouldBindJSON(&body); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":"`+strings.Repeat("x", 64)+`"}`)))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"a":1}`)))
	if w.Code != http.StatusOK {
		t.Errorf("small body: got %d", w.Code)
	}
}
