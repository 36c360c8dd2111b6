package registry

import (
	"encoding/binary"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

// buildEnvelope frames metadata and archive the way cargo publish does.
func buildEnvelope(t *testing.T, metadata *types.CrateMetadata, archive []byte) []byte {
	t.Helper()
	metaBuf, err := json.Marshal(metadata)
	require.NoError(t, err)

	buf := make([]byte, 0, 8+len(metaBuf)+len(archive))
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(metaBuf)))
	buf = append(buf, metaBuf...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(archive)))
	buf = append(buf, archive...)
	return buf
}

func TestParseEnvelope(t *testing.T) {
	metadata := &types.CrateMetadata{Name: "foo", Vers: "0.1.0"}
	payload := buildEnvelope(t, metadata, []byte("hello"))

	upload, err := ParseEnvelope(payload)
	require.NoError(t, err)
	assert.Equal(t, "foo", upload.Metadata.Name)
	assert.Equal(t, "0.1.0", upload.Metadata.Vers)
	assert.Equal(t, []byte("hello"), upload.Content)
}

func TestParseEnvelopeRejectsBadFrames(t *testing.T) {
	metadata := &types.CrateMetadata{Name: "foo", Vers: "0.1.0"}
	valid := buildEnvelope(t, metadata, []byte("hello"))

	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty", payload: nil},
		{name: "short prefix", payload: []byte{1, 2}},
		{name: "metadata length past buffer", payload: func() []byte {
			buf := append([]byte(nil), valid...)
			binary.LittleEndian.PutUint32(buf, uint32(len(buf)))
			return buf
		}()},
		{name: "archive length past buffer", payload: func() []byte {
			buf := append([]byte(nil), valid...)
			return buf[:len(buf)-1]
		}()},
		{name: "missing archive frame", payload: valid[:4+int(binary.LittleEndian.Uint32(valid))+2]},
		{name: "metadata not json", payload: func() []byte {
			buf := binary.LittleEndian.AppendUint32(nil, 3)
			buf = append(buf, []byte("{{{")...)
			buf = binary.LittleEndian.AppendUint32(buf, 0)
			return buf
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEnvelope(tt.payload)
			assert.ErrorIs(t, err, apierr.InvalidRequest(""))
		})
	}
}

func TestBuildIndexRecord(t *testing.T) {
	upload := &UploadData{
		Metadata: types.CrateMetadata{
			Name: "foo",
			Vers: "0.1.0",
			Deps: []types.Dependency{{
				Name:               "serde",
				VersionReq:         "^1.0",
				Kind:               types.DepKindNormal,
				DefaultFeatures:    true,
				ExplicitNameInToml: "serde_renamed",
			}},
			Links: "native",
		},
		Content: []byte("hello"),
	}

	record := upload.BuildIndexRecord("2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824")
	assert.Equal(t, "foo", record.Name)
	assert.False(t, record.Yanked)
	assert.Equal(t, "native", record.Links)
	require.Len(t, record.Deps, 1)
	assert.Equal(t, "^1.0", record.Deps[0].Req)
	assert.Equal(t, "serde_renamed", record.Deps[0].Package)
	assert.NotNil(t, record.Features)
}

// The index line must survive a parse/serialize round trip unchanged.
func TestIndexRecordRoundTrip(t *testing.T) {
	record := types.IndexRecord{
		Name:     "foo",
		Vers:     "0.1.0",
		Deps:     []types.IndexDependency{{Name: "serde", Req: "^1.0", Kind: "normal", Features: []string{}}},
		Checksum: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824",
		Features: map[string][]string{"default": {"std"}},
		Yanked:   true,
		Links:    "native",
	}

	data, err := json.Marshal(&record)
	require.NoError(t, err)
	var parsed types.IndexRecord
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, record, parsed)

	// Stable field order on the wire.
	assert.Regexp(t, `^\{"name":.*"vers":.*"deps":.*"cksum":.*"features":.*"yanked":.*"links":.*\}$`, string(data))
}
