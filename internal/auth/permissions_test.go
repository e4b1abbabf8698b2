package auth

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParsePermission(t *testing.T) {
	cases := []struct {
		raw     string
		want    Permission
		wantErr bool
	}{
		{raw: "pages:read", want: Permission{Resource: "pages", Action: "read"}},
		{raw: "pages:*", want: Permission{Resource: "pages", Action: "*"}},
		{raw: "*:read", want: Permission{Resource: "*", Action: "read"}},
		{raw: "*", want: Permission{Resource: "*", Action: "*"}},
		{raw: " media.assets:upload ", want: Permission{Resource: "media.assets", Action: "upload"}},
		{raw: "", wantErr: true},
		{raw: "pages", wantErr: true},
		{raw: "pages:", wantErr: true},
		{raw: ":read", wantErr: true},
		{raw: "pages:read:extra", wantErr: true},
		{raw: "*:*", wantErr: true},
		{raw: "Pages:Read", wantErr: true},
		{raw: "pages:re ad", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParsePermission(tc.raw)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidInput) {
				t.Errorf("ParsePermission(%q): expected ErrInvalidInput, got %v", tc.raw, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParsePermission(%q): %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParsePermission(%q) = %+v, want %+v", tc.raw, got, tc.want)
		}
	}
}

func TestPermissionSetAllows(t *testing.T) {
	set, err := ParsePermissionSet([]string{"pages:read", "media:*", "*:export"})
	if err != nil {
		t.Fatalf("ParsePermissionSet: %v", err)
	}

	cases := []struct {
		resource, action string
		want             bool
	}{
		{"pages", "read", true},
		{"pages", "write", false},
		{"media", "upload", true},
		{"media", "delete", true},
		{"reports", "export", true},
		{"reports", "read", false},
	}
	for _, tc := range cases {
		if got := set.Allows(tc.resource, tc.action); got != tc.want {
			t.Errorf("Allows(%s, %s) = %v, want %v", tc.resource, tc.action, got, tc.want)
		}
	}

	global, err := ParsePermissionSet([]string{"*"})
	if err != nil {
		t.Fatalf("ParsePermissionSet: %v", err)
	}
	if !global.Allows("anything", "at-all") {
		t.Fatal("global wildcard should allow everything")
	}
}

func TestPermissionSetDeduplicates(t *testing.T) {
	set, err := ParsePermissionSet([]string{"pages:read", "pages:read", " pages:read"})
	if err != nil {
		t.Fatalf("ParsePermissionSet: %v", err)
	}
	if len(set) != 1 {
		t.Fatalf("expected deduplicated set, got %v", set.Strings())
	}
}

func TestPermissionSetJSONRoundTrip(t *testing.T) {
	set, err := ParsePermissionSet([]string{"pages:*", "*"})
	if err != nil {
		t.Fatalf("ParsePermissionSet: %v", err)
	}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded PermissionSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Allows("pages", "write") || !decoded.Allows("users", "edit") {
		t.Fatalf("round trip lost permissions: %v", decoded.Strings())
	}

	// Malformed payloads are rejected at parse time, not tolerated at
	// check time.
	var bad PermissionSet
	if err := json.Unmarshal([]byte(`["pages"]`), &bad); err == nil {
		t.Fatal("expected malformed permission to fail decoding")
	}
}
