package sensor

import "sync"

// NameLookup resolves a sensor identity to its configured display name.
type NameLookup interface {
	Lookup(mac string) (string, bool)
}

// Names is a concurrency-safe MAC to display name registry. Keys are stored
// canonicalized so lookups work regardless of how the MAC was written.
type Names struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewNames creates a registry seeded with the given names.
func NewNames(seed map[string]string) *Names {
	n := &Names{names: make(map[string]string, len(seed))}
	for mac, name := range seed {
		if name != "" {
			n.names[CanonicalMAC(mac)] = name
		}
	}
	return n
}

// Lookup implements NameLookup.
func (n *Names) Lookup(mac string) (string, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	name, ok := n.names[CanonicalMAC(mac)]
	return name, ok
}

// Set records a name for mac. An empty name removes the entry.
func (n *Names) Set(mac, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if name == "" {
		delete(n.names, CanonicalMAC(mac))
		return
	}
	n.names[CanonicalMAC(mac)] = name
}

// Merge adds every entry of names that is not already present.
func (n *Names) Merge(names map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for mac, name := range names {
		key := CanonicalMAC(mac)
		if _, ok := n.names[key]; !ok && name != "" {
			n.names[key] = name
		}
	}
}

// All returns a copy of the registry.
func (n *Names) All() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make(map[string]string, len(n.names))
	for k, v := range n.names {
		out[k] = v
	}
	return out
}

// Delete forgets the name of mac.
func (n *Names) Delete(mac string) {
	n.Set(mac, "")
}
