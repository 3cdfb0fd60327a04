package deck

import "fmt"

// ErrorKind identifies why loading an Anki package failed.
type ErrorKind int

const (
	// PackageNotFound means the package path does not exist.
	PackageNotFound ErrorKind = iota
	// UnpackFailed means the archive is not a valid zip or extraction failed.
	UnpackFailed
	// CollectionFileMissing means no known collection database filename was
	// present after extraction.
	CollectionFileMissing
	// MetadataUnreadable means the col row is absent or its JSON (or the
	// media manifest) is malformed.
	MetadataUnreadable
	// DatabaseUnreadable means the collection database could not be opened
	// or queried.
	DatabaseUnreadable
)

func (k ErrorKind) String() string {
	switch k {
	case PackageNotFound:
		return "package not found"
	case UnpackFailed:
		return "unpack failed"
	case CollectionFileMissing:
		return "collection file missing"
	case MetadataUnreadable:
		return "metadata unreadable"
	case DatabaseUnreadable:
		return "database unreadable"
	}
	return "unknown"
}

// LoadError is the single error type surfaced by Load. Loading is
// all-or-nothing: when a LoadError is returned no collection exists.
type LoadError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *LoadError) Unwrap() error { return e.Err }

func loadErr(kind ErrorKind, msg string, err error) *LoadError {
	return &LoadError{Kind: kind, Msg: msg, Err: err}
}
