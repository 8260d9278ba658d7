package provider

import (
	"os"
	"strconv"
)

// Custom metadata keys for carrying Unix permissions in blob metadata
// (§12 supplemented feature, extending provider/metadata.go's
// local-to-local UID/GID mapping). EncodeUnixMetadata and
// DecodeUnixMetadata convert between the two forms; no transfer path
// calls them, so uploads do not attach these keys and downloads do not
// apply them.
const (
	MetadataKeyMode = "x-blobmover-mode"
	MetadataKeyUID  = "x-blobmover-uid"
	MetadataKeyGID  = "x-blobmover-gid"
)

// EncodeUnixMetadata renders a UnixFileInfo's permission bits into
// blob metadata.
func EncodeUnixMetadata(info UnixFileInfo) map[string]string {
	if info == nil {
		return nil
	}
	return map[string]string{
		MetadataKeyMode: strconv.FormatUint(uint64(info.Mode()), 8),
		MetadataKeyUID:  strconv.FormatUint(uint64(info.UID()), 10),
		MetadataKeyGID:  strconv.FormatUint(uint64(info.GID()), 10),
	}
}

// DecodeUnixMetadata recovers UID/GID/mode from blob metadata written
// by EncodeUnixMetadata. Missing keys yield zero values, matching the
// zero-value UnixFileInfo behavior WrapOSFileInfo falls back to when
// the OS reports no owning-user/group info.
func DecodeUnixMetadata(base FileInfo, metadata map[string]string) UnixFileInfo {
	var mode os.FileMode
	var uid, gid uint64

	if v, ok := metadata[MetadataKeyMode]; ok {
		if parsed, err := strconv.ParseUint(v, 8, 32); err == nil {
			mode = os.FileMode(parsed)
		}
	}
	if v, ok := metadata[MetadataKeyUID]; ok {
		uid, _ = strconv.ParseUint(v, 10, 32)
	}
	if v, ok := metadata[MetadataKeyGID]; ok {
		gid, _ = strconv.ParseUint(v, 10, 32)
	}

	return NewUnixFileInfo(base, uint32(uid), uint32(gid), mode)
}
