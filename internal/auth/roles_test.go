package auth

import (
	"testing"

	"github.com/spec-kit/tour-auth-service/internal/domain"
)

func TestRoleAllowed(t *testing.T) {
	tests := []struct {
		name    string
		user    *domain.User
		allowed []domain.Role
		want    bool
	}{
		{
			name:    "role in set",
			user:    &domain.User{Role: domain.RoleAdmin},
			allowed: []domain.Role{domain.RoleAdmin, domain.RoleLeadGuide},
			want:    true,
		},
		{
			name:    "role not in set",
			user:    &domain.User{Role: domain.RoleUser},
			allowed: []domain.Role{domain.RoleAdmin, domain.RoleLeadGuide},
			want:    false,
		},
		{
			name:    "empty set",
			user:    &domain.User{Role: domain.RoleAdmin},
			allowed: nil,
			want:    false,
		},
		{
			name:    "nil user",
			user:    nil,
			allowed: []domain.Role{domain.RoleUser},
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoleAllowed(tt.user, tt.allowed...); got != tt.want {
				t.Fatalf("RoleAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}
