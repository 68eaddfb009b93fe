package index

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	apperrors "github.com/jrmatherly/apollos/internal/errors"
)

// corpusLock serializes index runs for one corpus across processes
// (gofrs/flock on a per-corpus lock file) and within this process (a held
// set, since flock is advisory per process, not per goroutine). Distinct
// corpora lock independently and run in parallel.
type corpusLock struct {
	corpusID string
	flock    *flock.Flock
}

var (
	procMu   sync.Mutex
	procHeld = map[string]bool{}
)

// acquireCorpusLock takes the in-process and cross-process locks for a
// corpus without blocking. A held lock means another run is indexing the
// same corpus; that is IndexLocked, retryable after it finishes.
func acquireCorpusLock(dir, corpusID string) (*corpusLock, error) {
	procMu.Lock()
	if procHeld[corpusID] {
		procMu.Unlock()
		return nil, apperrors.New(apperrors.ErrCodeIndexLocked,
			fmt.Sprintf("corpus %q is being indexed by another run", corpusID), nil)
	}
	procHeld[corpusID] = true
	procMu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		releaseProc(corpusID)
		return nil, fmt.Errorf("create lock directory: %w", err)
	}

	// Hash the corpus ID so arbitrary IDs make safe file names.
	sum := sha256.Sum256([]byte(corpusID))
	lockPath := filepath.Join(dir, "."+hex.EncodeToString(sum[:8])+".lock")

	fl := flock.New(lockPath)
	acquired, err := fl.TryLock()
	if err != nil {
		releaseProc(corpusID)
		return nil, fmt.Errorf("acquire corpus lock: %w", err)
	}
	if !acquired {
		releaseProc(corpusID)
		return nil, apperrors.New(apperrors.ErrCodeIndexLocked,
			fmt.Sprintf("corpus %q is being indexed by another process", corpusID), nil)
	}

	return &corpusLock{corpusID: corpusID, flock: fl}, nil
}

func releaseProc(corpusID string) {
	procMu.Lock()
	delete(procHeld, corpusID)
	procMu.Unlock()
}

// release frees both locks. Safe to call once per acquire.
func (l *corpusLock) release() error {
	err := l.flock.Unlock()
	releaseProc(l.corpusID)
	if err != nil {
		return fmt.Errorf("release corpus lock: %w", err)
	}
	return nil
}
