package registry

import (
	"fmt"
	"net/url"
	"regexp"

	"github.com/Masterminds/semver/v3"

	"github.com/cuemby/granary/pkg/apierr"
	"github.com/cuemby/granary/pkg/types"
)

// crateNameRe is the canonical crate name shape: an ASCII letter followed by
// up to 63 characters of [A-Za-z0-9_-].
var crateNameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]{0,63}$`)

// categoryRe is the slug shape accepted for categories; anything else is
// reported as ignored.
var categoryRe = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*(::[a-z0-9][a-z0-9-]*)*$`)

// ValidateName checks a crate name against the canonical shape.
func ValidateName(name string) error {
	if name == "" {
		return apierr.InvalidRequest("name must not be empty")
	}
	if len(name) > 64 {
		return apierr.InvalidRequest("name must not exceed 64 characters")
	}
	if !crateNameRe.MatchString(name) {
		return apierr.InvalidRequest("name must start with an ASCII letter and contain only alphanumeric, -, _")
	}
	return nil
}

// ValidateMetadata validates a publish metadata block. Fatal problems return
// an error; non-fatal findings accumulate as warnings in the result.
func ValidateMetadata(metadata *types.CrateMetadata) (*types.UploadResult, error) {
	if err := ValidateName(metadata.Name); err != nil {
		return nil, err
	}
	if _, err := semver.StrictNewVersion(metadata.Vers); err != nil {
		return nil, apierr.Newf(apierr.KindInvalidRequest, "vers %q is not a valid semver version", metadata.Vers)
	}
	for _, dep := range metadata.Deps {
		switch dep.Kind {
		case types.DepKindNormal, types.DepKindDev, types.DepKindBuild:
		default:
			return nil, apierr.InvalidRequest("kind for dependency must be either [normal, dev, build]")
		}
		if dep.Name == "" {
			return nil, apierr.InvalidRequest("dependency name must not be empty")
		}
	}

	result := &types.UploadResult{
		Warnings: types.UploadWarnings{
			InvalidCategories: []string{},
			InvalidBadges:     []string{},
			Other:             []string{},
		},
	}
	for _, category := range metadata.Categories {
		if !categoryRe.MatchString(category) {
			result.Warnings.InvalidCategories = append(result.Warnings.InvalidCategories, category)
		}
	}
	for badge := range metadata.Badges {
		// Badges are a crates.io legacy; none are interpreted here.
		result.Warnings.InvalidBadges = append(result.Warnings.InvalidBadges, badge)
	}
	if metadata.Repository != "" {
		if parsed, err := url.Parse(metadata.Repository); err != nil || parsed.Scheme == "" {
			result.Warnings.Other = append(result.Warnings.Other,
				fmt.Sprintf("repository %q is not a canonical URL", metadata.Repository))
		}
	}
	return result, nil
}
