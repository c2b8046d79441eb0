package transport

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// Allowlist manages trusted peers
type Allowlist struct {
	peers  map[peer.ID]AllowedPeer
	mu     sync.RWMutex
	path   string
	strict bool // reject unknown peers
}

// AllowedPeer contains info about a trusted peer
type AllowedPeer struct {
	PeerID    string   `json:"peer_id"`
	Name      string   `json:"name,omitempty"`
	AddedAt   int64    `json:"added_at"`
	Addresses []string `json:"addresses,omitempty"`
}

// allowlistFile is the storage format
type allowlistFile struct {
	Peers []AllowedPeer `json:"peers"`
}

// NewAllowlist creates an allowlist backed by path, loading it if it
// exists. An empty path keeps the list in memory only.
func NewAllowlist(path string, strict bool) (*Allowlist, error) {
	al := &Allowlist{
		peers:  make(map[peer.ID]AllowedPeer),
		path:   path,
		strict: strict,
	}
	if path == "" {
		return al, nil
	}
	if err := al.load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load allowlist %s: %w", path, err)
	}
	return al, nil
}

// Add trusts a peer.
func (al *Allowlist) Add(id peer.ID, name string, addresses []string) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	al.peers[id] = AllowedPeer{
		PeerID:    id.String(),
		Name:      name,
		AddedAt:   time.Now().Unix(),
		Addresses: addresses,
	}
	return al.save()
}

// Remove removes a peer from the allowlist
func (al *Allowlist) Remove(id peer.ID) error {
	al.mu.Lock()
	defer al.mu.Unlock()

	delete(al.peers, id)
	return al.save()
}

// IsAllowed reports whether id may connect. Everyone is allowed unless the
// list is strict.
func (al *Allowlist) IsAllowed(id peer.ID) bool {
	if al == nil {
		return true
	}
	al.mu.RLock()
	defer al.mu.RUnlock()

	if !al.strict {
		return true
	}
	_, ok := al.peers[id]
	return ok
}

// List returns all allowed peers, oldest first.
func (al *Allowlist) List() []AllowedPeer {
	al.mu.RLock()
	defer al.mu.RUnlock()

	result := make([]AllowedPeer, 0, len(al.peers))
	for _, p := range al.peers {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].AddedAt != result[j].AddedAt {
			return result[i].AddedAt < result[j].AddedAt
		}
		return result[i].PeerID < result[j].PeerID
	})
	return result
}

// Count returns the number of allowed peers
func (al *Allowlist) Count() int {
	al.mu.RLock()
	defer al.mu.RUnlock()
	return len(al.peers)
}

func (al *Allowlist) load() error {
	data, err := os.ReadFile(al.path)
	if err != nil {
		return err
	}

	var file allowlistFile
	if err := json.Unmarshal(data, &file); err != nil {
		return err
	}
	for _, p := range file.Peers {
		id, err := peer.Decode(p.PeerID)
		if err != nil {
			continue // skip invalid entries
		}
		al.peers[id] = p
	}
	return nil
}

func (al *Allowlist) save() error {
	if al.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(al.path), 0700); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file := allowlistFile{Peers: make([]AllowedPeer, 0, len(al.peers))}
	for _, p := range al.peers {
		file.Peers = append(file.Peers, p)
	}
	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(al.path, data, 0600)
}
