package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	logx "postbot/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if st != nil || err != nil {
			t.Fatalf("Open(%q) = %v, %v", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for file driver without path")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	drivers := []struct {
		name   string
		driver string
		file   string
	}{
		{"file", "file", "audit.jsonl"},
		{"sqlite", "sqlite", "audit.db"},
	}
	for _, d := range drivers {
		d := d
		t.Run(d.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(t.TempDir(), "nested", d.file)
			st, err := Open(Config{Driver: d.driver, Path: path, BusyTimeout: time.Second}, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer st.Close()
			exerciseStore(t, st)
		})
	}
}

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := AuditEntry{
			At:        base.Add(time.Duration(i) * time.Hour),
			Action:    ActionRelease,
			Trigger:   "scheduled",
			Mode:      "sequential",
			Requested: i + 1,
			OK:        i,
			Fail:      1,
		}
		if err := st.AppendAudit(ctx, e); err != nil {
			t.Fatalf("AppendAudit: %v", err)
		}
	}
	if err := st.AppendAudit(ctx, AuditEntry{At: base, Action: ActionAutopostOn, ActorID: 42}); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	got, err := st.RecentAudit(ctx, ActionRelease, 3)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	for i, want := range []int{5, 4, 3} {
		if got[i].Requested != want {
			t.Fatalf("entry %d requested = %d, want %d (newest first)", i, got[i].Requested, want)
		}
	}
	if got[0].Trigger != "scheduled" || got[0].Mode != "sequential" || !got[0].At.Equal(base.Add(4*time.Hour)) {
		t.Fatalf("fields not round-tripped: %+v", got[0])
	}

	all, err := st.RecentAudit(ctx, "", 100)
	if err != nil || len(all) != 6 {
		t.Fatalf("RecentAudit(all) = %d, %v", len(all), err)
	}
	if all[0].Action != ActionAutopostOn || all[0].ActorID != 42 {
		t.Fatalf("newest entry = %+v", all[0])
	}

	none, err := st.RecentAudit(ctx, ActionRelease, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("RecentAudit(limit 0) = %v, %v", none, err)
	}
}
