package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rustpanel-project/rustpanel/internal/events"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "rustpanel.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveServerUpsertAndPasswordPolicy(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.SaveServer(ctx, Server{Name: "main", Host: "10.0.0.1", Port: 3050, Password: "pw"})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetServer(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Password != "" {
		t.Fatalf("password stored without SavePassword")
	}

	id2, err := s.SaveServer(ctx, Server{Name: "renamed", Host: "10.0.0.1", Port: 3050, Password: "pw", SavePassword: true})
	if err != nil {
		t.Fatalf("save again: %v", err)
	}
	if id2 != id {
		t.Fatalf("upsert created new row: %d != %d", id2, id)
	}
	got, _ = s.GetServer(ctx, id)
	if got.Name != "renamed" || got.Password != "pw" || !got.SavePassword {
		t.Fatalf("unexpected server: %+v", got)
	}

	if err := s.DeleteServer(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetServer(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteServer(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestLastServer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.LastServer(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on empty store, got %v", err)
	}

	base := time.Unix(1700000000, 0)
	s.TouchServer(ctx, "a.example", 3050, base)
	s.TouchServer(ctx, "b.example", 3051, base.Add(time.Minute))

	last, err := s.LastServer(ctx)
	if err != nil {
		t.Fatalf("last server: %v", err)
	}
	if last.Host != "b.example" || last.Port != 3051 {
		t.Fatalf("last server = %+v", last)
	}

	list, err := s.ListServers(ctx)
	if err != nil || len(list) != 2 {
		t.Fatalf("list = %v, %v", list, err)
	}
	if list[0].Host != "b.example" {
		t.Fatalf("list not ordered by last connection: %+v", list)
	}
}

func TestHistoryAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)

	for i := 0; i < 5; i++ {
		info := events.ServerInfo{Hostname: "srv", PlayerCount: int32(i), MaxPlayers: 100, FPS: 30}
		if err := s.RecordSample(ctx, info, base.Add(time.Duration(i)*time.Hour)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	all, err := s.History(ctx, base, 0)
	if err != nil || len(all) != 5 {
		t.Fatalf("history = %d, %v", len(all), err)
	}
	if all[0].Players != 0 || all[4].Players != 4 || all[4].FPS != 30 {
		t.Fatalf("unexpected ordering or values: %+v", all)
	}

	latest, _ := s.History(ctx, base, 2)
	if len(latest) != 2 || latest[0].Players != 3 || latest[1].Players != 4 {
		t.Fatalf("limited history = %+v", latest)
	}

	n, err := s.PruneSamples(ctx, base.Add(2*time.Hour))
	if err != nil || n != 2 {
		t.Fatalf("prune = %d, %v", n, err)
	}
	rest, _ := s.History(ctx, time.Unix(0, 0), 0)
	if len(rest) != 3 {
		t.Fatalf("remaining = %d, want 3", len(rest))
	}
}
