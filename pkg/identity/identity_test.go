package identity

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestGenerate(t *testing.T) {
	info, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if info.PeerID == "" {
		t.Fatal("empty peer id")
	}
	if !info.PeerID.MatchesPublicKey(info.PublicKey) {
		t.Fatal("peer id does not match public key")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "identity.key")

	info, err := Generate()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if err := Save(info, path); err != nil {
		t.Fatalf("save: %v", err)
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if fi.Mode().Perm() != 0600 {
			t.Fatalf("key file mode = %v, want 0600", fi.Mode().Perm())
		}
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.PeerID != info.PeerID {
		t.Fatalf("peer id changed on reload: %s != %s", loaded.PeerID, info.PeerID)
	}
}

func TestLoadOrCreate(t *testing.T) {
	dir := t.TempDir()

	first, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	second, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.PeerID != first.PeerID {
		t.Fatalf("identity not stable: %s != %s", second.PeerID, first.PeerID)
	}
}

func TestLoadOrCreateReplacesCorruptKey(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "identity.key")
	if err := os.WriteFile(keyFile, []byte("garbage"), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	info, err := LoadOrCreate(dir)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}

	reloaded, err := Load(keyFile)
	if err != nil {
		t.Fatalf("regenerated key unreadable: %v", err)
	}
	if reloaded.PeerID != info.PeerID {
		t.Fatal("regenerated key not persisted")
	}
}
