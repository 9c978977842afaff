package service

import (
	"errors"
	"testing"
)

func TestRegisterLoginAuthenticate(t *testing.T) {
	f := newFixture(t)
	users := f.svc.User

	user, err := users.Register(f.ctx, "  alice ", "secret123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if user.Username != "alice" || user.Password == "secret123" {
		t.Fatalf("registered user = %+v", user)
	}
	if _, err := users.Register(f.ctx, "alice", "another1"); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate Register: err = %v, want ErrConflict", err)
	}

	if _, _, err := users.Login(f.ctx, "alice", "wrong-password"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Login wrong password: err = %v, want ErrUnauthenticated", err)
	}
	if _, _, err := users.Login(f.ctx, "nobody", "secret123"); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Login unknown user: err = %v, want ErrUnauthenticated", err)
	}
	token, logged, err := users.Login(f.ctx, "alice", "secret123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if logged.ID != user.ID {
		t.Fatalf("Login user id = %d, want %d", logged.ID, user.ID)
	}

	got, err := users.Authenticate(f.ctx, token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("Authenticate id = %d, want %d", got.ID, user.ID)
	}
	for _, bad := range []string{"", "not-a-token"} {
		if _, err := users.Authenticate(f.ctx, bad); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("Authenticate(%q): err = %v, want ErrUnauthenticated", bad, err)
		}
	}
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	for _, tt := range []struct{ username, password string }{
		{"", "secret123"},
		{"has space", "secret123"},
		{"at@sign", "secret123"},
		{"bob", "short"},
	} {
		if _, err := f.svc.User.Register(f.ctx, tt.username, tt.password); !errors.Is(err, ErrValidation) {
			t.Fatalf("Register(%q, %q): err = %v, want ErrValidation", tt.username, tt.password, err)
		}
	}
}

func TestAuthenticateDeletedUser(t *testing.T) {
	f := newFixture(t)
	token, err := f.tokens.GenerateToken(42, "ghost")
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	if _, err := f.svc.User.Authenticate(f.ctx, token); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("Authenticate ghost: err = %v, want ErrUnauthenticated", err)
	}
}
