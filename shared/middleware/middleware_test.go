package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eaglebank/core-banking/internal/session"
	"github.com/gin-gonic/gin"
)

type mockResolver struct {
	resolveFn func(string) (*session.Principal, error)
}

func (m *mockResolver) Resolve(token string) (*session.Principal, error) {
	return m.resolveFn(token)
}

func newAuthTestRouter(role session.Role) *gin.Engine {
	gin.SetMode(gin.TestMode)
	resolver := &mockResolver{resolveFn: func(token string) (*session.Principal, error) {
		switch token {
		case "customer-token":
			return &session.Principal{SessionID: "SES-1", Role: session.RoleCustomer, CardNumber: "123456"}, nil
		case "admin-token":
			return &session.Principal{SessionID: "SES-2", Role: session.RoleAdmin, Username: "root"}, nil
		}
		return nil, errors.New("invalid session token")
	}}
	r := gin.New()
	r.Use(LoggingMiddleware())
	r.GET("/protected", AuthMiddleware(resolver, role), func(c *gin.Context) {
		p, ok := GetPrincipal(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"session": p.SessionID})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name           string
		role           session.Role
		header         string
		expectedStatus int
	}{
		{"customer token on customer route", session.RoleCustomer, "Bearer customer-token", http.StatusOK},
		{"admin token on admin route", session.RoleAdmin, "Bearer admin-token", http.StatusOK},
		{"customer token on admin route", session.RoleAdmin, "Bearer customer-token", http.StatusForbidden},
		{"missing header", session.RoleCustomer, "", http.StatusUnauthorized},
		{"wrong scheme", session.RoleCustomer, "Basic customer-token", http.StatusUnauthorized},
		{"unknown token", session.RoleCustomer, "Bearer stale-token", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		router := newAuthTestRouter(tc.role)
		req, _ := http.NewRequest(http.MethodGet, "/protected", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != tc.expectedStatus {
			t.Errorf("[%s] expected %d got %d", tc.name, tc.expectedStatus, w.Code)
		}
	}
}

type pinRequest struct {
	PIN string `validate:"required,pin"`
}

func TestValidateRequest(t *testing.T) {
	tests := []struct {
		name         string
		pin          string
		expectedType string
	}{
		{"valid", "1234", ""},
		{"missing", "", "required"},
		{"short", "123", "pin"},
		{"letters", "12a4", "pin"},
	}
	for _, tc := range tests {
		errs := ValidateRequest(pinRequest{PIN: tc.pin})
		if tc.expectedType == "" {
			if errs != nil {
				t.Errorf("[%s] expected no errors got %+v", tc.name, errs)
			}
			continue
		}
		if len(errs) != 1 || errs[0].Type != tc.expectedType || errs[0].Field != "PIN" {
			t.Errorf("[%s] expected one %s error got %+v", tc.name, tc.expectedType, errs)
		}
	}
}

type virtualCardRequest struct {
	CardNumber string `validate:"required,cardnumber"`
	Expiry     string `validate:"required,mmyy"`
	CVV        string `validate:"required,cvv"`
}

func TestCardFieldValidators(t *testing.T) {
	tests := []struct {
		name   string
		req    virtualCardRequest
		failed []string
	}{
		{"file card", virtualCardRequest{"123456", "12/99", "321"}, nil},
		{"relational card", virtualCardRequest{"4111111111111111", "01/30", "000"}, nil},
		{"eight digit card", virtualCardRequest{"12345678", "12/99", "321"}, []string{"CardNumber"}},
		{"month thirteen", virtualCardRequest{"123456", "13/99", "321"}, []string{"Expiry"}},
		{"four digit cvv", virtualCardRequest{"123456", "12/99", "4321"}, []string{"CVV"}},
	}
	for _, tc := range tests {
		errs := ValidateRequest(tc.req)
		if len(errs) != len(tc.failed) {
			t.Errorf("[%s] expected %d errors got %+v", tc.name, len(tc.failed), errs)
			continue
		}
		for i, field := range tc.failed {
			if errs[i].Field != field {
				t.Errorf("[%s] expected %s to fail got %s", tc.name, field, errs[i].Field)
			}
		}
	}
}
