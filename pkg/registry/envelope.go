package registry

import (
	"encoding/binary"
	"encoding/json"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

// UploadData is a decoded publish envelope.
type UploadData struct {
	Metadata types.CrateMetadata
	Content  []byte
}

// ParseEnvelope decodes the binary publish frame:
//
//	u32 meta_len | meta_len bytes of JSON metadata | u32 body_len | body_len bytes of archive
//
// Lengths are little-endian. Lengths that run past the buffer are rejected.
func ParseEnvelope(buf []byte) (*UploadData, error) {
	if len(buf) < 4 {
		return nil, apierr.InvalidRequest("publish payload is truncated")
	}
	metaLen := int(binary.LittleEndian.Uint32(buf))
	if metaLen < 0 || 4+metaLen > len(buf) {
		return nil, apierr.InvalidRequest("metadata length exceeds payload")
	}
	metaBuf := buf[4 : 4+metaLen]

	rest := buf[4+metaLen:]
	if len(rest) < 4 {
		return nil, apierr.InvalidRequest("publish payload is truncated")
	}
	bodyLen := int(binary.LittleEndian.Uint32(rest))
	if bodyLen < 0 || 4+bodyLen > len(rest) {
		return nil, apierr.InvalidRequest("archive length exceeds payload")
	}

	var upload UploadData
	if err := json.Unmarshal(metaBuf, &upload.Metadata); err != nil {
		return nil, apierr.Wrap(apierr.KindInvalidRequest, "metadata is not valid JSON", err)
	}
	upload.Content = rest[4 : 4+bodyLen]
	return &upload, nil
}

// BuildIndexRecord derives the index line for an upload from its metadata and
// the archive checksum.
func (u *UploadData) BuildIndexRecord(checksum string) *types.IndexRecord {
	deps := make([]types.IndexDependency, 0, len(u.Metadata.Deps))
	for i := range u.Metadata.Deps {
		deps = append(deps, types.IndexDependencyFrom(&u.Metadata.Deps[i]))
	}
	features := u.Metadata.Features
	if features == nil {
		features = map[string][]string{}
	}
	return &types.IndexRecord{
		Name:     u.Metadata.Name,
		Vers:     u.Metadata.Vers,
		Deps:     deps,
		Checksum: checksum,
		Features: features,
		Yanked:   false,
		Links:    u.Metadata.Links,
	}
}
