package main

import (
	"context"

	"golang.org/x/crypto/bcrypt"
)

// Seed ensures a bootstrap admin exists so a fresh deployment can log in.
// Idempotent: an existing admin user is left untouched.
func (r *Repository) Seed(ctx context.Context) error {
	if _, err := r.GetUserByUsername(ctx, "admin"); err == nil {
		return nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("admin1234"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return r.CreateUser(ctx, &User{
		Username:     "admin",
		PasswordHash: string(hash),
		Role:         RoleAdmin,
	})
}
