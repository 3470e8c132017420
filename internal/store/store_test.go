package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"xrayctl/internal/logger"
	"xrayctl/internal/profile"
)

func TestMain(m *testing.M) {
	logger.Init(false, "")
	os.Exit(m.Run())
}

const (
	linkA = "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@example.com:8388#ServerA"
	// Same server and credentials as linkA, different remark.
	linkADup = "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@example.com:8388#RenamedA"
	linkB    = "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@other.example.net:8388#ServerB"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "profiles.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportDeduplicates(t *testing.T) {
	s := openStore(t)

	added, dup, failed := s.Import([]string{linkA, linkADup, linkB, "ss://garbage"}, nil)
	if added != 2 || dup != 1 || failed != 1 {
		t.Errorf("added=%d dup=%d failed=%d", added, dup, failed)
	}

	recs, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d", len(recs))
	}
	if recs[0].Remark != "ServerA" || recs[0].Address != "example.com" {
		t.Errorf("record 0 = %+v", recs[0])
	}
}

func TestImportEnrichment(t *testing.T) {
	s := openStore(t)

	added, _, _ := s.Import([]string{linkA}, func(p *profile.Profile) string {
		return "JP"
	})
	if added != 1 {
		t.Fatalf("added = %d", added)
	}

	recs, _ := s.List()
	if recs[0].Country != "JP" {
		t.Errorf("country = %q", recs[0].Country)
	}
}

func TestResolveByIDAndRemark(t *testing.T) {
	s := openStore(t)
	s.Import([]string{linkA, linkB}, nil)

	byRemark, err := s.Resolve("ServerB")
	if err != nil {
		t.Fatal(err)
	}
	if byRemark.Address != "other.example.net" {
		t.Errorf("resolved = %+v", byRemark)
	}

	byID, err := s.Resolve("1")
	if err != nil {
		t.Fatal(err)
	}
	if byID.Remark != "ServerA" {
		t.Errorf("resolved = %+v", byID)
	}

	if _, err := s.Resolve("nope"); err == nil {
		t.Error("unknown reference should fail")
	}
}

func TestRemove(t *testing.T) {
	s := openStore(t)
	s.Import([]string{linkA, linkB}, nil)

	if err := s.Remove("ServerA"); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.List()
	if len(recs) != 1 || recs[0].Remark != "ServerB" {
		t.Errorf("records = %+v", recs)
	}

	if err := s.Remove("ServerA"); err == nil {
		t.Error("removing twice should fail")
	}
}

func TestRecordLatency(t *testing.T) {
	s := openStore(t)
	s.Import([]string{linkA}, nil)

	if err := s.RecordLatency(1, 42*time.Millisecond, true); err != nil {
		t.Fatal(err)
	}
	recs, _ := s.List()
	if recs[0].LatencyMS != 42 || recs[0].LastTested.IsZero() {
		t.Errorf("record = %+v", recs[0])
	}

	if err := s.RecordLatency(1, 0, false); err != nil {
		t.Fatal(err)
	}
	recs, _ = s.List()
	if recs[0].LatencyMS != -1 {
		t.Errorf("failed test should store -1, got %d", recs[0].LatencyMS)
	}
}
