package engine

import (
	"bytes"
	"encoding/json"

	"github.com/blobmover/core/location"
)

// JobRecord is the durable snapshot of a Job persisted into a
// journal's base or chunk record slot on every meaningful state
// change (§4.7), enough to reconstruct the job and reposition it with
// Resume after a restart. Locations are flattened to their kind and
// addressing fields rather than the Location struct itself: manager's
// own Upload/Download/Copy already build a fresh Location from a bare
// path/URI with default credentials, so resuming the same way keeps
// the codec from having to serialize Credentials, which §3 says a
// resumed transfer should refresh rather than replay.
type JobRecord struct {
	SourceKind location.Kind
	SourcePath string
	SourceRel  string
	SourceURI  string

	DestKind location.Kind
	DestPath string
	DestRel  string
	DestURI  string

	Method    TransferMethod
	Size      int64
	Overwrite *bool
	CopyID    string
	Status    JobStatus

	CommittedThrough int64
	Pending          []ChunkRange
}

// EncodeJobRecord flattens j into a JobRecord and marshals it as JSON.
// The journal's chunk offsets already carry the bit-exact framing
// (§4.7); the record payload inside a slot needs no layout of its own.
func EncodeJobRecord(j *Job) ([]byte, error) {
	rec := JobRecord{
		SourceKind: j.Source.Kind(),
		SourcePath: j.Source.Path(),
		SourceRel:  j.Source.RelPath(),
		SourceURI:  j.Source.URI(),
		DestKind:   j.Dest.Kind(),
		DestPath:   j.Dest.Path(),
		DestRel:    j.Dest.RelPath(),
		DestURI:    j.Dest.URI(),
		Method:     j.Method,
		Size:       j.Size,
		Overwrite:  j.Overwrite,
		CopyID:     j.CopyID,
		Status:     j.Status,
	}
	rec.CommittedThrough, rec.Pending = j.Checkpoint.Snapshot()
	return json.Marshal(rec)
}

// DecodeJobRecord reconstructs a Job from a JobRecord snapshot,
// positioning it at the persisted Status/CopyID so Resume can
// reposition a Failed job correctly. cb is attached fresh: callbacks
// are supplied by the caller on every invocation, never persisted.
func DecodeJobRecord(data []byte, cb Callbacks) (*Job, error) {
	var rec JobRecord
	// A journal slot is zero-padded past the encoded record.
	if err := json.Unmarshal(bytes.TrimRight(data, "\x00"), &rec); err != nil {
		return nil, err
	}

	src := locationFromRecord(rec.SourceKind, rec.SourcePath, rec.SourceRel, rec.SourceURI)
	dst := locationFromRecord(rec.DestKind, rec.DestPath, rec.DestRel, rec.DestURI)

	j := NewJob(src, dst, rec.Method, rec.Size, cb)
	j.Overwrite = rec.Overwrite
	j.CopyID = rec.CopyID
	j.Status = rec.Status
	j.Checkpoint = &SingleObjectCheckpoint{
		committedThrough: rec.CommittedThrough,
		pending:          append([]ChunkRange(nil), rec.Pending...),
	}
	return j, nil
}

// locationFromRecord rebuilds a single-object endpoint Location; a
// single-object Job's Source/Dest is always either a local file or a
// remote blob, never a directory kind.
func locationFromRecord(kind location.Kind, path, relPath, uri string) location.Location {
	if kind == location.KindLocalFilePath {
		return location.NewLocalFilePath(path, relPath)
	}
	return location.NewRemoteBlob(uri, location.BlobTypeBlock, location.StaticCredentials{}, location.RequestOptions{})
}
