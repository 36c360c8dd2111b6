package registry

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		crate   string
		wantErr bool
	}{
		{name: "simple", crate: "foo"},
		{name: "single letter", crate: "a"},
		{name: "mixed case", crate: "Serde"},
		{name: "digits and separators", crate: "foo2-bar_baz"},
		{name: "max length", crate: "a" + strings.Repeat("b", 63)},
		{name: "empty", crate: "", wantErr: true},
		{name: "leading digit", crate: "1foo", wantErr: true},
		{name: "leading dash", crate: "-foo", wantErr: true},
		{name: "punctuation", crate: "foo!", wantErr: true},
		{name: "too long", crate: "a" + strings.Repeat("b", 64), wantErr: true},
		{name: "unicode", crate: "fóó", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.crate)
			if tt.wantErr {
				assert.ErrorIs(t, err, apierr.InvalidRequest(""))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateMetadata(t *testing.T) {
	valid := func() *types.CrateMetadata {
		return &types.CrateMetadata{Name: "foo", Vers: "0.1.0"}
	}

	t.Run("valid minimal", func(t *testing.T) {
		result, err := ValidateMetadata(valid())
		require.NoError(t, err)
		assert.Empty(t, result.Warnings.InvalidCategories)
		assert.Empty(t, result.Warnings.Other)
	})

	t.Run("bad version", func(t *testing.T) {
		metadata := valid()
		metadata.Vers = "not-semver"
		_, err := ValidateMetadata(metadata)
		assert.ErrorIs(t, err, apierr.InvalidRequest(""))
	})

	t.Run("bad dependency kind", func(t *testing.T) {
		metadata := valid()
		metadata.Deps = []types.Dependency{{Name: "serde", VersionReq: "^1.0", Kind: "runtime"}}
		_, err := ValidateMetadata(metadata)
		assert.ErrorIs(t, err, apierr.InvalidRequest(""))
	})

	t.Run("all dependency kinds accepted", func(t *testing.T) {
		metadata := valid()
		for _, kind := range []string{types.DepKindNormal, types.DepKindDev, types.DepKindBuild} {
			metadata.Deps = []types.Dependency{{Name: "serde", VersionReq: "^1.0", Kind: kind}}
			_, err := ValidateMetadata(metadata)
			assert.NoError(t, err, "kind %s", kind)
		}
	})

	t.Run("warnings accumulate", func(t *testing.T) {
		metadata := valid()
		metadata.Categories = []string{"web-programming", "Not A Category"}
		metadata.Badges = map[string]map[string]any{"travis-ci": {"repository": "foo/foo"}}
		metadata.Repository = "not a url"

		result, err := ValidateMetadata(metadata)
		require.NoError(t, err)
		assert.Equal(t, []string{"Not A Category"}, result.Warnings.InvalidCategories)
		assert.Equal(t, []string{"travis-ci"}, result.Warnings.InvalidBadges)
		require.Len(t, result.Warnings.Other, 1)
		assert.Contains(t, result.Warnings.Other[0], "repository")
	})
}
