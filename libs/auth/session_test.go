package auth

import (
	"context"
	"encoding/json"
	"testing"
)

func TestParseAuthorization(t *testing.T) {
	tests := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{header: "Token abc123", want: "abc123"},
		{header: "Bearer xyz", want: "xyz"},
		{header: "  token  spaced  ", want: "spaced"},
		{header: "", wantErr: true},
		{header: "Token", wantErr: true},
		{header: "Basic dXNlcjpwYXNz", wantErr: true},
		{header: "Token a b", wantErr: true},
	}
	for _, tc := range tests {
		got, err := ParseAuthorization(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%q: expected error", tc.header)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.header, err)
		}
		if got.Token != tc.want {
			t.Fatalf("%q: expected %q, got %q", tc.header, tc.want, got.Token)
		}
	}
}

func TestSessionHeaderAndFingerprint(t *testing.T) {
	s := Session{Token: "abc"}
	if s.Header() != "Token abc" {
		t.Fatalf("unexpected header %q", s.Header())
	}
	fp := s.Fingerprint()
	if len(fp) != 16 || fp == "abc" {
		t.Fatalf("unexpected fingerprint %q", fp)
	}
	if fp != (Session{Token: "abc"}).Fingerprint() || fp == (Session{Token: "abd"}).Fingerprint() {
		t.Fatal("fingerprint must be stable and token specific")
	}
}

func TestSessionContext(t *testing.T) {
	if _, ok := SessionFromContext(context.Background()); ok {
		t.Fatal("expected no session")
	}
	ctx := WithSession(context.Background(), Session{Token: "t"})
	s, ok := SessionFromContext(ctx)
	if !ok || s.Token != "t" {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestNormalizeRole(t *testing.T) {
	cases := map[string]Role{
		"admin":         RoleAdmin,
		"Administrador": RoleAdmin,
		"PERSONAL":      RoleStaff,
		" residente ":   RoleResident,
		"guard":         Role("GUARD"),
	}
	for in, want := range cases {
		if got := NormalizeRole(in); got != want {
			t.Fatalf("NormalizeRole(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestViewerCan(t *testing.T) {
	staff := Viewer{Role: RoleStaff}
	if !staff.Can(RoleAdmin, RoleStaff) || staff.Can(RoleAdmin) {
		t.Fatal("unexpected staff permissions")
	}
	if !(Viewer{Role: RoleResident, Superuser: true}).Can(RoleAdmin) {
		t.Fatal("superuser should hold every role")
	}
}

func TestViewerUnmarshalRoleAliases(t *testing.T) {
	cases := map[string]Role{
		`{"id":1,"username":"ana","role":"admin"}`:                    RoleAdmin,
		`{"id":2,"username":"bo","rolNombre":"Personal"}`:             RoleStaff,
		`{"id":3,"username":"cy","profile":{"role":{"code":"RESIDENT"}}}`: RoleResident,
		`{"id":4,"username":"di","profile":{"role":"STAFF"}}`:         RoleStaff,
	}
	for body, want := range cases {
		var v Viewer
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			t.Fatalf("%s: %v", body, err)
		}
		if v.Role != want || v.Username == "" || v.ID == 0 {
			t.Fatalf("%s: unexpected viewer %+v", body, v)
		}
	}
}
