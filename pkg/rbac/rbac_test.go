package rbac

import (
	"testing"

	"github.com/NicolasHaas/screenshare/pkg/model"
)

func TestHasPermission(t *testing.T) {
	all := []model.Permission{
		model.PermViewSessions,
		model.PermViewHistory,
		model.PermViewInfo,
		model.PermStartSession,
		model.PermEndSession,
	}
	allowed := map[model.Role][]model.Permission{
		model.RoleAdmin:    all,
		model.RoleOperator: {model.PermViewSessions, model.PermViewInfo, model.PermStartSession, model.PermEndSession},
		model.RoleViewer:   {model.PermViewSessions, model.PermViewInfo},
	}
	for role, perms := range allowed {
		want := make(map[model.Permission]bool, len(perms))
		for _, p := range perms {
			want[p] = true
		}
		for _, p := range all {
			if got := HasPermission(role, p); got != want[p] {
				t.Errorf("HasPermission(%s, %s) = %v, want %v", role, p, got, want[p])
			}
		}
	}
}

func TestHasPermissionUnknownRole(t *testing.T) {
	if HasPermission(model.Role(42), model.PermViewInfo) {
		t.Fatal("unknown role should have no permissions")
	}
}

func TestRequirePermission(t *testing.T) {
	if msg := RequirePermission(model.RoleOperator, model.PermStartSession); msg != "" {
		t.Fatalf("operator start: %q", msg)
	}
	msg := RequirePermission(model.RoleViewer, model.PermEndSession)
	if msg != "permission denied: end_session requires higher role" {
		t.Fatalf("viewer end: %q", msg)
	}
}
