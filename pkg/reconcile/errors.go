package reconcile

import "errors"

var (
	ErrReconcileInProgress = errors.New("reconciliation already in progress for account")

	// errStale marks a correction computed from a snapshot older than the
	// record's last update; the later writer already won.
	errStale = errors.New("reconcile: provider snapshot is stale")

	// errNoChange marks a cycle that found local state already matching the
	// provider; the record is left byte-for-byte untouched.
	errNoChange = errors.New("reconcile: no correction needed")
)
