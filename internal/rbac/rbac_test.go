package rbac

import "testing"

func TestRoleOrdering(t *testing.T) {
	if !RoleOwner.AtLeast(RoleEditor) || !RoleEditor.AtLeast(RoleViewer) || !RoleViewer.AtLeast(RoleNone) {
		t.Fatalf("expected viewer < editor < owner")
	}
	if RoleViewer.AtLeast(RoleEditor) {
		t.Fatalf("viewer must not rank as editor")
	}
}

func TestCan(t *testing.T) {
	cases := []struct {
		role   Role
		action Action
		want   bool
	}{
		{RoleViewer, ActionWrite, false},
		{RoleViewer, ActionChat, true},
		{RoleViewer, ActionComment, true},
		{RoleEditor, ActionWrite, true},
		{RoleEditor, ActionManage, false},
		{RoleOwner, ActionManage, true},
		{RoleNone, ActionRead, false},
	}
	for _, tc := range cases {
		if got := Can(tc.role, tc.action); got != tc.want {
			t.Errorf("Can(%s, %s) = %v, want %v", tc.role, tc.action, got, tc.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	if Normalize("editor") != RoleEditor {
		t.Fatalf("expected editor")
	}
	if Normalize("admin") != RoleNone {
		t.Fatalf("unknown roles must normalize to none")
	}
}
