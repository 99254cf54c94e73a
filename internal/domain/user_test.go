package domain

import (
	"testing"
	"time"
)

func TestPasswordChangedAfter(t *testing.T) {
	changed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		changedAt *time.Time
		issuedAt  time.Time
		want      bool
	}{
		{
			name:      "never changed",
			changedAt: nil,
			issuedAt:  changed.Add(-time.Hour),
			want:      false,
		},
		{
			name:      "token issued before change",
			changedAt: &changed,
			issuedAt:  changed.Add(-time.Hour),
			want:      true,
		},
		{
			name:      "token issued after change",
			changedAt: &changed,
			issuedAt:  changed.Add(time.Hour),
			want:      false,
		},
		{
			name:      "token issued in the same second",
			changedAt: &changed,
			issuedAt:  changed.Add(500 * time.Millisecond),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := &User{PasswordChangedAt: tt.changedAt}
			if got := u.PasswordChangedAfter(tt.issuedAt); got != tt.want {
				t.Fatalf("PasswordChangedAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidRole(t *testing.T) {
	for _, r := range []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin} {
		if !ValidRole(r) {
			t.Fatalf("expected %q to be valid", r)
		}
	}
	if ValidRole(Role("superadmin")) {
		t.Fatal("expected unknown role to be invalid")
	}
}
