package storage

import "testing"

func TestOptionsDSN(t *testing.T) {
	opts := Options{Host: "db", User: "chat", Password: "pw", Name: "roomchat", Port: 5432}
	want := "host=db user=chat password=pw dbname=roomchat port=5432 sslmode=disable TimeZone=UTC"
	if got := opts.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}

	opts.SSLMode, opts.TimeZone = "require", "Asia/Taipei"
	want = "host=db user=chat password=pw dbname=roomchat port=5432 sslmode=require TimeZone=Asia/Taipei"
	if got := opts.DSN(); got != want {
		t.Fatalf("DSN() = %q, want %q", got, want)
	}
}
