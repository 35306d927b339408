package credstore

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const validBlob = `{
  "access_token": "ya29.test-access",
  "refresh_token": "1//test-refresh",
  "expiry": "2030-01-02T15:04:05Z",
  "project_id": "proj-123"
}`

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(filepath.Join(t.TempDir(), "oauth_creds.json"))
}

func TestLoad_FromFile(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(validBlob), 0600); err != nil {
		t.Fatal(err)
	}

	cred, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cred.AccessToken != "ya29.test-access" {
		t.Errorf("AccessToken mismatch: %s", cred.AccessToken)
	}
	if cred.ProjectID != "proj-123" {
		t.Errorf("ProjectID mismatch: %s", cred.ProjectID)
	}
	want := time.Date(2030, 1, 2, 15, 4, 5, 0, time.UTC)
	if !cred.Expiry.Equal(want) {
		t.Errorf("Expiry mismatch: %s", cred.Expiry)
	}
}

func TestLoad_EnvTakesPrecedence(t *testing.T) {
	s := newTestStore(t)
	fileBlob := strings.Replace(validBlob, "proj-123", "from-file", 1)
	if err := os.WriteFile(s.Path(), []byte(fileBlob), 0600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(EnvVar, strings.Replace(validBlob, "proj-123", "from-env", 1))

	cred, err := s.Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cred.ProjectID != "from-env" {
		t.Errorf("Environment blob should win over file, got project %s", cred.ProjectID)
	}
}

func TestLoad_NotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Load(); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestLoad_MalformedMissingField(t *testing.T) {
	s := newTestStore(t)
	blob := `{"access_token": "x", "expiry": "2030-01-02T15:04:05Z"}`
	if err := os.WriteFile(s.Path(), []byte(blob), 0600); err != nil {
		t.Fatal(err)
	}

	_, err := s.Load()
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedError, got %v", err)
	}
	if malformed.Field != "refresh_token" {
		t.Errorf("Expected refresh_token named as offending field, got %q", malformed.Field)
	}

	// No partially populated credential may be installed.
	if _, ok := s.Current(); ok {
		t.Errorf("Malformed load must not install a credential")
	}
}

func TestParseCredential_EpochExpiry(t *testing.T) {
	cases := []struct {
		name string
		blob string
		want time.Time
	}{
		{"seconds", `{"access_token":"a","refresh_token":"r","expiry":1893456000}`,
			time.Unix(1893456000, 0)},
		{"milliseconds", `{"access_token":"a","refresh_token":"r","expiry":1893456000000}`,
			time.UnixMilli(1893456000000)},
		{"legacy expiry_date", `{"access_token":"a","refresh_token":"r","expiry_date":1893456000000}`,
			time.UnixMilli(1893456000000)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cred, err := ParseCredential([]byte(tc.blob))
			if err != nil {
				t.Fatalf("ParseCredential failed: %v", err)
			}
			if !cred.Expiry.Equal(tc.want) {
				t.Errorf("Expiry mismatch: got %s want %s", cred.Expiry, tc.want)
			}
		})
	}
}

func TestParseCredential_BadExpiry(t *testing.T) {
	_, err := ParseCredential([]byte(`{"access_token":"a","refresh_token":"r","expiry":"tomorrow"}`))
	var malformed *MalformedError
	if !errors.As(err, &malformed) {
		t.Fatalf("Expected MalformedError, got %v", err)
	}
	if malformed.Field != "expiry" {
		t.Errorf("Expected expiry named, got %q", malformed.Field)
	}
}

func TestSave_AtomicRoundTrip(t *testing.T) {
	s := newTestStore(t)
	cred := &Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC),
		ProjectID:    "p",
		Onboarded:    true,
	}
	if err := s.Save(cred); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// No temp files left behind.
	entries, _ := os.ReadDir(filepath.Dir(s.Path()))
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp") {
			t.Errorf("Temp file left behind: %s", e.Name())
		}
	}

	reloaded := New(s.Path())
	got, err := reloaded.Load()
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if got.AccessToken != "at" || got.RefreshToken != "rt" || !got.Onboarded {
		t.Errorf("Round-trip mismatch: %+v", got)
	}
	if !got.Expiry.Equal(cred.Expiry) {
		t.Errorf("Expiry round-trip mismatch: %s", got.Expiry)
	}
}

func TestUpdate_PersistsBeforeReturning(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(validBlob), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	updated, err := s.Update(func(c *Credential) {
		c.AccessToken = "rotated"
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.AccessToken != "rotated" {
		t.Errorf("Update result not applied")
	}

	// A fresh store sees the rotated token: durability, not just memory.
	got, err := New(s.Path()).Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "rotated" {
		t.Errorf("Rotated token not durable, got %s", got.AccessToken)
	}
}

func TestCurrent_SnapshotIsolation(t *testing.T) {
	s := newTestStore(t)
	if err := os.WriteFile(s.Path(), []byte(validBlob), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(); err != nil {
		t.Fatal(err)
	}

	snap, ok := s.Current()
	if !ok {
		t.Fatal("Expected credential present")
	}
	snap.AccessToken = "scribbled"

	again, _ := s.Current()
	if again.AccessToken == "scribbled" {
		t.Errorf("Reader mutation leaked into the store")
	}
}

func TestWatch_FiresOnRename(t *testing.T) {
	s := newTestStore(t)
	fired := make(chan struct{}, 1)
	stop, err := s.Watch(func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer stop()

	// Simulate an out-of-band atomic write.
	tmp := s.Path() + ".new"
	if err := os.WriteFile(tmp, []byte(validBlob), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, s.Path()); err != nil {
		t.Fatal(err)
	}

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Errorf("Watcher did not fire after credential file appeared")
	}
}
