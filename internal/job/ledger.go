package job

import (
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/brogergvhs/archivist/internal/title"
	"github.com/brogergvhs/archivist/internal/util"

	"gopkg.in/yaml.v3"
)

// LedgerFile is the ledger's file name inside the temp root.
const LedgerFile = "ledger.yaml"

// Ledger remembers which artifact each source URL produced per output kind,
// so a repeated submission can finish without touching the network.
type Ledger struct {
	path string

	mu      sync.Mutex
	entries map[string]string
}

// OpenLedger loads the ledger at path, starting empty if it does not exist.
func OpenLedger(path string) (*Ledger, error) {
	l := &Ledger{path: path, entries: map[string]string{}}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, &l.entries); err != nil {
		return nil, err
	}
	if l.entries == nil {
		l.entries = map[string]string{}
	}
	return l, nil
}

func ledgerKey(kind title.Kind, url string) string {
	return string(kind) + " " + url
}

// Lookup returns the artifact recorded for url and kind if it is still on disk.
func (l *Ledger) Lookup(kind title.Kind, url string) (string, bool) {
	if l == nil {
		return "", false
	}

	l.mu.Lock()
	path, ok := l.entries[ledgerKey(kind, url)]
	l.mu.Unlock()

	if !ok || !util.FileExists(path) {
		return "", false
	}
	return path, true
}

func (l *Ledger) Record(kind title.Kind, url, artifact string) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	key := ledgerKey(kind, url)
	if l.entries[key] == artifact {
		return nil
	}
	l.entries[key] = artifact

	data, err := yaml.Marshal(l.entries)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return err
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, l.path)
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
