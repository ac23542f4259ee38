package registry_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/batchweave/batchweave/internal/registry"
)

func writeInclusion(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "inclusion.csv")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write inclusion list: %v", err)
	}
	return path
}

func TestLoad_SubjectLevel(t *testing.T) {
	path := writeInclusion(t, "sub_id\nsub-0003\nsub-0001\nsub-0002\n")

	reg, err := registry.Load(path, registry.LevelSubject)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.Len() != 3 {
		t.Fatalf("expected 3 units, got %d", reg.Len())
	}
	// Keys come back sorted regardless of file order.
	want := []string{"sub-0001", "sub-0002", "sub-0003"}
	for i, k := range reg.Keys() {
		if k.SubID != want[i] {
			t.Fatalf("key %d: expected %s, got %s", i, want[i], k.SubID)
		}
	}
}

func TestLoad_SessionLevel(t *testing.T) {
	path := writeInclusion(t, "sub_id,ses_id\nsub-01,ses-02\nsub-01,ses-01\n")

	reg, err := registry.Load(path, registry.LevelSession)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	keys := reg.Keys()
	if keys[0].SesID != "ses-01" || keys[1].SesID != "ses-02" {
		t.Fatalf("expected session order ses-01,ses-02, got %v", keys)
	}
	if !reg.Contains(registry.Key{SubID: "sub-01", SesID: "ses-02"}) {
		t.Fatalf("expected registry to contain sub-01/ses-02")
	}
	if reg.Contains(registry.Key{SubID: "sub-01", SesID: "ses-03"}) {
		t.Fatalf("did not expect sub-01/ses-03")
	}
}

func TestLoad_DuplicateRejected(t *testing.T) {
	path := writeInclusion(t, "sub_id\nsub-01\nsub-01\n")

	_, err := registry.Load(path, registry.LevelSubject)
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestLoad_LevelMismatch(t *testing.T) {
	path := writeInclusion(t, "sub_id,ses_id\nsub-01,ses-01\n")

	if _, err := registry.Load(path, registry.LevelSubject); err == nil {
		t.Fatalf("expected header mismatch error at subject level")
	}
}

func TestNew_ValidatesIDs(t *testing.T) {
	cases := []struct {
		name  string
		level registry.Level
		key   registry.Key
	}{
		{"empty sub", registry.LevelSubject, registry.Key{}},
		{"bad prefix", registry.LevelSubject, registry.Key{SubID: "01"}},
		{"ses at subject level", registry.LevelSubject, registry.Key{SubID: "sub-01", SesID: "ses-01"}},
		{"missing ses", registry.LevelSession, registry.Key{SubID: "sub-01"}},
		{"bad ses prefix", registry.LevelSession, registry.Key{SubID: "sub-01", SesID: "01"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := registry.New(tc.level, []registry.Key{tc.key}); err == nil {
				t.Fatalf("expected validation error for %v", tc.key)
			}
		})
	}
}

func TestKey_Ordering(t *testing.T) {
	a := registry.Key{SubID: "sub-01", SesID: "ses-01"}
	b := registry.Key{SubID: "sub-01", SesID: "ses-02"}
	c := registry.Key{SubID: "sub-02", SesID: "ses-01"}
	if !a.Less(b) || !b.Less(c) || c.Less(a) {
		t.Fatalf("lexicographic (sub, ses) order violated")
	}
}

func TestParseLevel(t *testing.T) {
	if lvl, err := registry.ParseLevel("Session"); err != nil || lvl != registry.LevelSession {
		t.Fatalf("parse session: %v %v", lvl, err)
	}
	if lvl, err := registry.ParseLevel(""); err != nil || lvl != registry.LevelSubject {
		t.Fatalf("empty level should default to subject, got %v %v", lvl, err)
	}
	if _, err := registry.ParseLevel("cohort"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}
