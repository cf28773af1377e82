package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPeerInfoLines(t *testing.T) {
	lines := peerInfoLines("12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj",
		[]string{"/ip4/192.168.1.10/tcp/38411", "/ip4/127.0.0.1/tcp/38411"})
	if len(lines) != 2 {
		t.Fatalf("lines = %v, want 2", lines)
	}
	want := "/ip4/192.168.1.10/tcp/38411/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj"
	if lines[0] != want {
		t.Fatalf("line = %s, want %s", lines[0], want)
	}

	if got := peerInfoLines("", []string{"/ip4/192.168.1.10/tcp/38411"}); got != nil {
		t.Fatalf("lines without peer id = %v, want nil", got)
	}
	if got := peerInfoLines("12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj", nil); got != nil {
		t.Fatalf("lines without addrs = %v, want nil", got)
	}
}

func TestReadBootstrapFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peer.info")
	data := "/ip4/10.0.0.1/tcp/4001/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj\n" +
		"\n" +
		"# comment\n" +
		"/ip4/10.0.0.2/tcp/4001/p2p/12D3KooWHbcFcrGPXKUrHcxvd8MXEeUzRYyvY8fQcpEBxncSUwhj\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	addrs, err := readBootstrapFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(addrs) != 2 {
		t.Fatalf("addrs = %v, want 2", addrs)
	}
}
