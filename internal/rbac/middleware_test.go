package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"outbound-dialer/internal/auth"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, id auth.Identity, p Permission) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if id.UserID != "" {
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id))
		}
		c.Next()
	}, RequireWorkspace(), Require(p), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequire(t *testing.T) {
	tests := []struct {
		name string
		role string
		perm Permission
		want int
	}{
		{"agent runs queues", RoleAgent, PermQueueRun, http.StatusOK},
		{"agent cannot manage", RoleAgent, PermQueueManage, http.StatusForbidden},
		{"supervisor manages", RoleSupervisor, PermQueueManage, http.StatusOK},
		{"analyst reads reports", RoleAnalyst, PermReportRead, http.StatusOK},
		{"analyst cannot dial", RoleAnalyst, PermQueueRun, http.StatusForbidden},
		{"super admin bypasses", RoleSuperAdmin, PermQueueManage, http.StatusOK},
		{"unknown role", "finance", PermReportRead, http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := auth.Identity{UserID: "u", WorkspaceID: "w", Role: tt.role}
			if got := serve(t, id, tt.perm); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestRequireWorkspace(t *testing.T) {
	if got := serve(t, auth.Identity{UserID: "u", Role: RoleOwner}, PermQueueRun); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 without workspace, got %d", got)
	}
	if got := serve(t, auth.Identity{}, PermQueueRun); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity, got %d", got)
	}
}
