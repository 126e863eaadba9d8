package artifactstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models", "classifier.txcat")
	s := NewFileStore(path)

	if _, err := s.Load(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before save, got %v", err)
	}
	if err := s.Save(context.Background(), []byte("v1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(context.Background(), []byte("v2")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := s.Load(context.Background())
	if err != nil || string(got) != "v2" {
		t.Fatalf("expected v2, got %q (err=%v)", got, err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestOpen(t *testing.T) {
	cases := []struct {
		in       string
		location string
		gcs      bool
		ok       bool
	}{
		{"./models/expense_classifier.txcat", "./models/expense_classifier.txcat", false, true},
		{"gs://ml-artifacts/txcat/model.txcat", "gs://ml-artifacts/txcat/model.txcat", true, true},
		{"gs://bucket-only", "", false, false},
		{"gs:///object", "", false, false},
		{"  ", "", false, false},
	}
	for _, tc := range cases {
		s, err := Open(tc.in)
		if !tc.ok {
			if err == nil {
				t.Fatalf("%q: expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if s.Location() != tc.location {
			t.Fatalf("%q: expected location %s, got %s", tc.in, tc.location, s.Location())
		}
		if _, isGCS := s.(*GCSStore); isGCS != tc.gcs {
			t.Fatalf("%q: unexpected store type %T", tc.in, s)
		}
	}
}

func TestParseGCSURI(t *testing.T) {
	b, o, err := ParseGCSURI("gs://bucket/a/b/c.txcat")
	if err != nil || b != "bucket" || o != "a/b/c.txcat" {
		t.Fatalf("unexpected parse: %s %s %v", b, o, err)
	}
	if _, _, err := ParseGCSURI("s3://bucket/x"); err == nil {
		t.Fatalf("expected error for foreign scheme")
	}
}
