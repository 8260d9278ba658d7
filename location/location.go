// Package location models TransferLocation (§3): the addressable
// endpoints a transfer reads from or writes to. It generalizes the
// teacher's provider.FileInfo/UnixFileInfo variant modeling
// (provider/provider.go, provider/metadata.go) into a closed sum type
// with an explicit discriminator, matching the §9 design note that a
// serialized union should carry a discriminator rather than reflect
// on a type name.
package location

import "io"

// Kind discriminates the TransferLocation variants (§3).
type Kind int

const (
	KindLocalFilePath Kind = iota
	KindLocalDirectoryPath
	KindRemoteBlob
	KindRemoteBlobDirectory
	KindInMemoryStream
	KindSourceURI
)

func (k Kind) String() string {
	switch k {
	case KindLocalFilePath:
		return "LocalFilePath"
	case KindLocalDirectoryPath:
		return "LocalDirectoryPath"
	case KindRemoteBlob:
		return "RemoteBlob"
	case KindRemoteBlobDirectory:
		return "RemoteBlobDirectory"
	case KindInMemoryStream:
		return "InMemoryStream"
	case KindSourceURI:
		return "SourceUri"
	default:
		return "Unknown"
	}
}

// BlobType mirrors the remote store's object flavors, used to pick a
// TransferMethod and to enforce the §4.5 numeric limits.
type BlobType int

const (
	BlobTypeUnspecified BlobType = iota
	BlobTypeBlock
	BlobTypeAppend
	BlobTypePage
)

// Credentials is an opaque, replaceable credential handle. Locations
// hold a Credentials value rather than baking secrets into the
// location itself, so a resumed transfer can swap in fresh
// credentials without relocating (§3 invariant).
type Credentials interface {
	// Refresh returns a possibly-updated Credentials value, e.g. after
	// a token expired. Implementations that never expire may return
	// themselves.
	Refresh() (Credentials, error)
}

// StaticCredentials never expires; Refresh is a no-op. It is the
// default for local filesystem locations and for tests.
type StaticCredentials struct{}

func (StaticCredentials) Refresh() (Credentials, error) { return StaticCredentials{}, nil }

// AccessCondition is a precondition attached to a remote operation
// (e.g. If-Match / If-None-Match style checks); left opaque here since
// the concrete wire protocol is out of scope (§1).
type AccessCondition struct {
	IfMatchETag    string
	IfNoneMatchAll bool
}

// RequestOptions carries per-location protocol knobs the concrete
// BlobClient implementation may consult (e.g. server timeout
// overrides); the engine never inspects these itself.
type RequestOptions struct {
	ServerTimeoutOverride int64 // milliseconds, 0 = use config default
	Metadata              map[string]string
}

// Location is the TransferLocation sum type (§3). Exactly one of the
// per-kind accessor sets is meaningful for a given Kind; callers
// switch on Kind() before reading fields, the same pattern the §9
// design note prescribes for the whole transfer hierarchy.
type Location struct {
	kind Kind

	// LocalFilePath / LocalDirectoryPath
	path    string
	relPath string

	// RemoteBlob / RemoteBlobDirectory
	uri             string
	containerURI    string
	prefix          string
	snapshot        string
	blobType        BlobType
	credentials     Credentials
	accessCondition *AccessCondition
	requestOptions  RequestOptions

	// InMemoryStream — never serialized (§3 invariant).
	stream io.ReadWriteSeeker

	// SourceUri
	sourceURI string
}

// Kind reports which variant this Location holds.
func (l Location) Kind() Kind { return l.kind }

// NewLocalFilePath builds a LocalFilePath location. relPath is the
// path relative to a directory transfer's root, empty for a
// standalone single-object transfer.
func NewLocalFilePath(path, relPath string) Location {
	return Location{kind: KindLocalFilePath, path: path, relPath: relPath, credentials: StaticCredentials{}}
}

// NewLocalDirectoryPath builds a LocalDirectoryPath location.
func NewLocalDirectoryPath(dir string) Location {
	return Location{kind: KindLocalDirectoryPath, path: dir, credentials: StaticCredentials{}}
}

// NewRemoteBlob builds a RemoteBlob location.
func NewRemoteBlob(uri string, blobType BlobType, creds Credentials, opts RequestOptions) Location {
	return Location{kind: KindRemoteBlob, uri: uri, blobType: blobType, credentials: creds, requestOptions: opts}
}

// WithSnapshot returns a copy of a RemoteBlob location pinned to a
// snapshot identifier.
func (l Location) WithSnapshot(snapshot string) Location {
	l.snapshot = snapshot
	return l
}

// WithAccessCondition returns a copy of a RemoteBlob location carrying
// a precondition.
func (l Location) WithAccessCondition(cond AccessCondition) Location {
	l.accessCondition = &cond
	return l
}

// NewRemoteBlobDirectory builds a RemoteBlobDirectory location.
func NewRemoteBlobDirectory(containerURI, prefix string, creds Credentials, opts RequestOptions) Location {
	return Location{kind: KindRemoteBlobDirectory, containerURI: containerURI, prefix: prefix, credentials: creds, requestOptions: opts}
}

// NewInMemoryStream builds an InMemoryStream location. Locations of
// this kind must never reach the journal encoder (§3 invariant); the
// journal codec does not check for KindInMemoryStream itself.
func NewInMemoryStream(stream io.ReadWriteSeeker) Location {
	return Location{kind: KindInMemoryStream, stream: stream, credentials: StaticCredentials{}}
}

// NewSourceURI builds a SourceUri location (a source addressed purely
// by URI, e.g. for a service-side copy where the engine never reads
// the bytes itself).
func NewSourceURI(uri string) Location {
	return Location{kind: KindSourceURI, sourceURI: uri, credentials: StaticCredentials{}}
}

// Path returns the filesystem path for LocalFilePath/LocalDirectoryPath.
func (l Location) Path() string { return l.path }

// RelPath returns the relative path for LocalFilePath.
func (l Location) RelPath() string { return l.relPath }

// URI returns the blob URI for RemoteBlob.
func (l Location) URI() string { return l.uri }

// ContainerURI returns the container URI for RemoteBlobDirectory.
func (l Location) ContainerURI() string { return l.containerURI }

// Prefix returns the key prefix for RemoteBlobDirectory.
func (l Location) Prefix() string { return l.prefix }

// Snapshot returns the pinned snapshot id, if any.
func (l Location) Snapshot() string { return l.snapshot }

// BlobType returns the blob flavor for RemoteBlob/RemoteBlobDirectory.
func (l Location) BlobType() BlobType { return l.blobType }

// Credentials returns the location's current credential handle.
func (l Location) Credentials() Credentials { return l.credentials }

// AccessCondition returns the attached precondition, if any.
func (l Location) AccessCondition() *AccessCondition { return l.accessCondition }

// RequestOptions returns the attached protocol options.
func (l Location) RequestOptions() RequestOptions { return l.requestOptions }

// Stream returns the in-memory stream for InMemoryStream.
func (l Location) Stream() io.ReadWriteSeeker { return l.stream }

// SourceURI returns the URI for SourceUri.
func (l Location) SourceURI() string { return l.sourceURI }

// RefreshCredentials replaces the location's Credentials by invoking
// Refresh, honoring the §3 invariant that credentials are replaceable
// at resume without relocating.
func (l Location) RefreshCredentials() (Location, error) {
	if l.credentials == nil {
		return l, nil
	}
	fresh, err := l.credentials.Refresh()
	if err != nil {
		return l, err
	}
	l.credentials = fresh
	return l, nil
}

// Key is the identity used by the in-memory transfer index and the
// checkpoint's TransferCollection: a location's stable string form.
// Stream locations have no stable key and must never participate in
// (source, dest) identity.
func (l Location) Key() string {
	switch l.kind {
	case KindLocalFilePath:
		return "file://" + l.path
	case KindLocalDirectoryPath:
		return "dir://" + l.path
	case KindRemoteBlob:
		if l.snapshot != "" {
			return l.uri + "?snapshot=" + l.snapshot
		}
		return l.uri
	case KindRemoteBlobDirectory:
		return l.containerURI + "/" + l.prefix
	case KindSourceURI:
		return l.sourceURI
	case KindInMemoryStream:
		return "" // deliberately unkeyable
	default:
		return ""
	}
}

// IsDirectoryKind reports whether this location addresses a directory
// root rather than a single object.
func (l Location) IsDirectoryKind() bool {
	return l.kind == KindLocalDirectoryPath || l.kind == KindRemoteBlobDirectory
}

// Validate enforces the location invariants that do not require an
// external round-trip: every location knows its type (guaranteed by
// construction), and stream locations are never used as directory
// roots or given a snapshot.
func (l Location) Validate() error {
	if l.kind == KindInMemoryStream && l.stream == nil {
		return errInvalidLocation("in-memory stream location has a nil stream")
	}
	if (l.kind == KindLocalFilePath || l.kind == KindLocalDirectoryPath) && l.path == "" {
		return errInvalidLocation("local location has an empty path")
	}
	if l.kind == KindRemoteBlob && l.uri == "" {
		return errInvalidLocation("remote blob location has an empty URI")
	}
	if l.kind == KindRemoteBlobDirectory && l.containerURI == "" {
		return errInvalidLocation("remote blob directory location has an empty container URI")
	}
	return nil
}

type invalidLocationError string

func (e invalidLocationError) Error() string { return string(e) }

func errInvalidLocation(msg string) error { return invalidLocationError(msg) }

// Equal reports whether two locations address the same endpoint,
// following the (source, dest) identity rule of §3 — used to detect
// SourceAndDestinationLocationEqual and to key the transfer index.
func Equal(a, b Location) bool {
	if a.kind != b.kind {
		return false
	}
	return a.Key() == b.Key() && a.Key() != ""
}
