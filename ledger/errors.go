package ledger

import "github.com/pkg/errors"

var (
	// ErrNilTransaction is returned when Submit receives a nil transaction.
	ErrNilTransaction = errors.New("nil transaction")
	// ErrNotFound is returned for out-of-range block indices and unknown
	// transaction ids.
	ErrNotFound = errors.New("not found")
	// ErrBusy is returned when Reset is invoked while a commit is in flight.
	ErrBusy = errors.New("ledger busy: commit in flight")
	// errSealedBlockCorrupt is returned when a freshly mined block fails its
	// own hash check. The commit is aborted and the pool left untouched.
	errSealedBlockCorrupt = errors.New("sealed block failed hash self-check")
)
