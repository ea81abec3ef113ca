package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// Receipt records a key the user stored. The secret itself is never kept.
type Receipt struct {
	KeyID     uint64    `json:"key_id"`
	Recipient string    `json:"recipient"`
	Server    string    `json:"server"`
	StoredAt  time.Time `json:"stored_at"`
	Retrieved bool      `json:"retrieved"`
}

// Receipts is the local ledger of stored keys, persisted as JSON.
type Receipts struct {
	Entries []Receipt `json:"entries"`

	path string
	mu   sync.Mutex
}

// OpenReceipts loads the ledger at path. A missing file yields an empty ledger.
func OpenReceipts(path string) (*Receipts, error) {
	r := &Receipts{path: path, Entries: []Receipt{}}

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return r, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(r); err != nil {
		return nil, fmt.Errorf("decode receipts %s: %w", path, err)
	}
	return r, nil
}

// Save writes the ledger atomically.
func (r *Receipts) Save() error {
	r.mu.Lock()
	data, err := json.MarshalIndent(r, "", "  ")
	r.mu.Unlock()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(r.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, r.path)
}

// Add records a receipt, replacing an older one for the same server and key id.
func (r *Receipts) Add(rc Receipt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.Entries {
		if e.KeyID == rc.KeyID && e.Server == rc.Server {
			r.Entries[i] = rc
			return
		}
	}
	r.Entries = append(r.Entries, rc)
}

// MarkRetrieved flags the receipt for keyID. It reports whether one was found.
func (r *Receipts) MarkRetrieved(server string, keyID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.Entries {
		if e.KeyID == keyID && e.Server == server {
			r.Entries[i].Retrieved = true
			return true
		}
	}
	return false
}

// Get returns the receipt for keyID on server.
func (r *Receipts) Get(server string, keyID uint64) (Receipt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.Entries {
		if e.KeyID == keyID && e.Server == server {
			return e, true
		}
	}
	return Receipt{}, false
}

// List returns a copy of all receipts ordered by key id.
func (r *Receipts) List() []Receipt {
	r.mu.Lock()
	out := append([]Receipt(nil), r.Entries...)
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].KeyID != out[j].KeyID {
			return out[i].KeyID < out[j].KeyID
		}
		return out[i].Server < out[j].Server
	})
	return out
}
