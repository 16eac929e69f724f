package kawpow

import (
	"fmt"
	"os"
	"path/filepath"

	cp "github.com/cespare/cp"
	"github.com/edsrzf/mmap-go"
)

// DiskStore persists a generated Dag to a directory so subsequent process
// restarts within the same epoch can mmap it back in instead of
// regenerating gigabytes of data. This mirrors go-ethereum ethash's on-disk
// DAG cache: generate into a temp file, atomically publish with cp.CopyFile,
// then map the final file read-only.
type DiskStore struct {
	Dir string
}

func datasetFileName(epoch uint64) string {
	return fmt.Sprintf("kawpow-dag-epoch-%d.bin", epoch)
}

// Path returns the on-disk path for an epoch's dataset file.
func (s *DiskStore) Path(epoch uint64) string {
	return filepath.Join(s.Dir, datasetFileName(epoch))
}

// Has reports whether a dataset file for epoch already exists on disk.
func (s *DiskStore) Has(epoch uint64) bool {
	_, err := os.Stat(s.Path(epoch))
	return err == nil
}

// Save atomically publishes dag.Data to disk: writes to a temp file in the
// same directory, then uses cp.CopyFile to move it into place so a reader
// never observes a partially written file.
func (s *DiskStore) Save(dag *Dag) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("kawpow: dagstore mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(s.Dir, "kawpow-dag-*.tmp")
	if err != nil {
		return fmt.Errorf("kawpow: dagstore tempfile: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(dag.Data); err != nil {
		tmp.Close()
		return fmt.Errorf("kawpow: dagstore write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("kawpow: dagstore close: %w", err)
	}
	if err := cp.CopyFile(s.Path(dag.Epoch), tmpPath); err != nil {
		return fmt.Errorf("kawpow: dagstore publish: %w", err)
	}
	return nil
}

// Load memory-maps an on-disk dataset file read-only. The returned Dag
// shares the mapped pages across every reader; calling Unmap on the
// returned mmap.MMap releases them.
func (s *DiskStore) Load(epoch uint64) (*Dag, mmap.MMap, error) {
	f, err := os.Open(s.Path(epoch))
	if err != nil {
		return nil, nil, fmt.Errorf("kawpow: dagstore open: %w", err)
	}
	defer f.Close()

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("kawpow: dagstore mmap: %w", err)
	}
	return &Dag{Epoch: epoch, Data: []byte(m), Size: uint64(len(m))}, m, nil
}
