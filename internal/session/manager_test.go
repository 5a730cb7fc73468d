package session

import (
	"testing"
	"time"
)

func TestManagerCreateGetListCleanup(t *testing.T) {
	m := New(t.TempDir(), 80, 24, false, false, nil)

	info, err := m.Create(CreateOptions{
		Command:    []string{"/bin/sleep", "30"},
		WorkingDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if info.Status != StatusRunning {
		t.Fatalf("status = %q, want running", info.Status)
	}

	got, err := m.Get(info.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != info.ID {
		t.Errorf("Get id = %q, want %q", got.ID, info.ID)
	}

	list, err := m.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].ID != info.ID {
		t.Fatalf("List = %+v, want single entry for %s", list, info.ID)
	}

	if err := m.Cleanup(info.ID); err == nil {
		t.Fatal("Cleanup on a running session should be refused")
	}

	if err := m.Kill(info.ID); err != nil {
		t.Fatalf("Kill: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := m.Get(info.ID)
		if err != nil {
			t.Fatalf("Get after kill: %v", err)
		}
		if got.Status == StatusExited {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("session did not report exited within 5s of Kill")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := m.Cleanup(info.ID); err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if _, err := m.Get(info.ID); err == nil {
		t.Fatal("expected Get to fail after Cleanup")
	}
}

func TestManagerCreateNoSpawnRefuses(t *testing.T) {
	m := New(t.TempDir(), 80, 24, true, false, nil)
	if _, err := m.Create(CreateOptions{Command: []string{"/bin/true"}}); err == nil {
		t.Fatal("expected Create to fail when noSpawn is set")
	}
}

func TestManagerResizeDisabledByPolicy(t *testing.T) {
	m := New(t.TempDir(), 80, 24, false, true, nil)
	info, err := m.Create(CreateOptions{Command: []string{"/bin/sleep", "30"}, WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(info.ID)

	if err := m.Resize(info.ID, 100, 40); err == nil {
		t.Fatal("expected Resize to be refused when doNotAllowColumnSet is set")
	}
}

func TestManagerCleanupExited(t *testing.T) {
	m := New(t.TempDir(), 80, 24, false, false, nil)
	info, err := m.Create(CreateOptions{Command: []string{"/bin/echo", "hi"}, WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		got, err := m.Get(info.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status == StatusExited {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("echo session did not exit within 5s")
		}
		time.Sleep(20 * time.Millisecond)
	}

	n, err := m.CleanupExited()
	if err != nil {
		t.Fatalf("CleanupExited: %v", err)
	}
	if n != 1 {
		t.Fatalf("CleanupExited removed %d sessions, want 1", n)
	}
}

func TestManagerSendKeyUnknownName(t *testing.T) {
	m := New(t.TempDir(), 80, 24, false, false, nil)
	info, err := m.Create(CreateOptions{Command: []string{"/bin/sleep", "30"}, WorkingDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer m.Kill(info.ID)

	if err := m.SendKey(info.ID, "not_a_real_key"); err == nil {
		t.Fatal("expected SendKey to fail for an unrecognized key name")
	}
}
