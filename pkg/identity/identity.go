package identity

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// Info bundles the node's keypair with its derived peer ID.
type Info struct {
	PrivateKey crypto.PrivKey
	PublicKey  crypto.PubKey
	PeerID     peer.ID
}

// Generate creates a fresh Ed25519 identity.
func Generate() (*Info, error) {
	priv, pub, err := crypto.GenerateKeyPairWithReader(crypto.Ed25519, 2048, rand.Reader)
	if err != nil {
		return nil, err
	}

	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &Info{
		PrivateKey: priv,
		PublicKey:  pub,
		PeerID:     peerID,
	}, nil
}

// Save writes the private key to path with 0600 permissions.
func Save(info *Info, path string) error {
	data, err := crypto.MarshalPrivateKey(info.PrivateKey)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// Load reads a previously saved private key from path.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, err
	}

	pub := priv.GetPublic()
	peerID, err := peer.IDFromPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &Info{
		PrivateKey: priv,
		PublicKey:  pub,
		PeerID:     peerID,
	}, nil
}

// LoadOrCreate loads the identity key from dataDir, creating and persisting
// a new one when no usable key exists yet.
func LoadOrCreate(dataDir string) (*Info, error) {
	keyFile := filepath.Join(os.ExpandEnv(dataDir), "identity.key")

	if _, err := os.Stat(keyFile); err == nil {
		info, err := Load(keyFile)
		if err == nil {
			return info, nil
		}
		// Corrupt or unreadable key falls through to regeneration.
	}

	info, err := Generate()
	if err != nil {
		return nil, fmt.Errorf("failed to generate identity: %w", err)
	}
	if err := Save(info, keyFile); err != nil {
		return nil, fmt.Errorf("failed to save identity: %w", err)
	}
	return info, nil
}
