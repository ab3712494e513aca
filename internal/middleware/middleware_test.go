package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"kbqa-go/internal/config"
	"kbqa-go/internal/repository"
	"kbqa-go/internal/service"
	"kbqa-go/pkg/database"
	"kbqa-go/pkg/token"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(t *testing.T) (*gin.Engine, *token.JWTManager, service.UserService) {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Driver: "sqlite", SQLite: config.SQLiteConfig{Path: ":memory:"}})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	jwtManager := token.NewJWTManager("test-secret", 1, 1)
	users := service.NewUserService(repository.NewUserRepository(db), jwtManager)

	r := gin.New()
	r.GET("/me", AuthMiddleware(jwtManager, users), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUser(c).Username)
	})
	return r, jwtManager, users
}

func TestAuthMiddleware(t *testing.T) {
	r, jwtManager, users := newAuthRouter(t)
	user, err := users.Register(context.Background(), "alice", "secret")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	valid, _ := jwtManager.GenerateToken(user.ID, user.Username, user.Role)
	ghost, _ := jwtManager.GenerateToken(99, "ghost", "USER")
	forged, _ := token.NewJWTManager("other", 1, 1).GenerateToken(user.ID, user.Username, user.Role)

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Token " + valid, http.StatusUnauthorized},
		{"forged", "Bearer " + forged, http.StatusUnauthorized},
		{"unknown user", "Bearer " + ghost, http.StatusUnauthorized},
		{"valid", "Bearer " + valid, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d, body %s", w.Code, tc.status, w.Body.String())
			}
			if tc.status == http.StatusOK && w.Body.String() != "alice" {
				t.Fatalf("body = %q", w.Body.String())
			}
		})
	}
}

func TestRequestLoggerKeepsBody(t *testing.T) {
	r := gin.New()
	r.Use(RequestLogger())
	r.POST("/echo", func(c *gin.Context) {
		b, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "%d", len(b))
	})

	body := strings.Repeat("x", maxLoggedBody*2)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(body)))
	if w.Body.String() != "8192" {
		t.Fatalf("handler read %s bytes, want 8192", w.Body.String())
	}
}

func TestIsStreaming(t *testing.T) {
	cases := []struct {
		path   string
		header map[string]string
		want   bool
	}{
		{"/api/v1/chat/stream", nil, true},
		{"/api/v1/knowledge/bases", map[string]string{"Content-Type": "multipart/form-data; boundary=x"}, true},
		{"/api/v1/chat/ws/abc", map[string]string{"Upgrade": "websocket"}, true},
		{"/api/v1/other", map[string]string{"Accept": "text/event-stream"}, true},
		{"/api/v1/knowledge/bases", map[string]string{"Content-Type": "application/json"}, false},
	}
	for _, tc := range cases {
		c, _ := gin.CreateTestContext(httptest.NewRecorder())
		c.Request = httptest.NewRequest(http.MethodPost, tc.path, nil)
		for k, v := range tc.header {
			c.Request.Header.Set(k, v)
		}
		if got := isStreaming(c); got != tc.want {
			t.Errorf("isStreaming(%s, %v) = %v, want %v", tc.path, tc.header, got, tc.want)
		}
	}
}
