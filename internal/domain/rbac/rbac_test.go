package rbac

import "testing"

func TestHighestRole(t *testing.T) {
	tests := []struct {
		name  string
		roles []string
		want  string
	}{
		{"пусто", nil, ""},
		{"только инспектор", []string{RoleInspector}, RoleInspector},
		{"обе роли", []string{RoleInspector, RoleSupervisor}, RoleSupervisor},
		{"обратный порядок", []string{RoleSupervisor, RoleInspector}, RoleSupervisor},
		{"посторонние роли", []string{"offline_access", "uma_authorization"}, ""},
		{"смешанные", []string{"offline_access", RoleInspector}, RoleInspector},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HighestRole(tt.roles); got != tt.want {
				t.Errorf("HighestRole(%v) = %q, ожидается %q", tt.roles, got, tt.want)
			}
		})
	}
}

func TestPermissions(t *testing.T) {
	tests := []struct {
		role      string
		wantRead  bool
		wantWrite bool
	}{
		{RoleSupervisor, true, true},
		{RoleInspector, true, false},
		{"", false, false},
		{"admin", false, false},
	}

	for _, tt := range tests {
		if got := CanRead(tt.role); got != tt.wantRead {
			t.Errorf("CanRead(%q) = %v, ожидается %v", tt.role, got, tt.wantRead)
		}
		if got := CanWrite(tt.role); got != tt.wantWrite {
			t.Errorf("CanWrite(%q) = %v, ожидается %v", tt.role, got, tt.wantWrite)
		}
	}
}
