package restore

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	userMappingParseErrorTemplateConstant = "unable to parse user mapping JSON: %w"
)

// MappingOutcome makes the result of a user lookup explicit, so the
// no-mapping case is an observable value rather than a silent drop.
type MappingOutcome string

// User mapping outcomes.
const (
	MappingOutcomeMapped     MappingOutcome = "mapped"
	MappingOutcomeUnmapped   MappingOutcome = "unmapped"
	MappingOutcomeEmptyInput MappingOutcome = "empty_input"
)

// UserMapping translates source usernames to destination usernames.
type UserMapping map[string]string

// ParseUserMapping decodes the JSON object form used by the USER_MAPPING
// environment variable. An empty string yields an empty mapping.
func ParseUserMapping(encodedMapping string) (UserMapping, error) {
	trimmedMapping := strings.TrimSpace(encodedMapping)
	if len(trimmedMapping) == 0 {
		return UserMapping{}, nil
	}

	mapping := UserMapping{}
	if decodeError := json.Unmarshal([]byte(trimmedMapping), &mapping); decodeError != nil {
		return nil, fmt.Errorf(userMappingParseErrorTemplateConstant, decodeError)
	}
	return mapping, nil
}

// Resolve returns the destination username for a source username together
// with the outcome of the lookup. Unmapped users keep provenance through the
// header only; no destination assignment is attempted for them.
func (mapping UserMapping) Resolve(sourceUsername string) (string, MappingOutcome) {
	trimmedUsername := strings.TrimSpace(sourceUsername)
	if len(trimmedUsername) == 0 {
		return "", MappingOutcomeEmptyInput
	}
	if destinationUsername, mappingExists := mapping[trimmedUsername]; mappingExists {
		return destinationUsername, MappingOutcomeMapped
	}
	return "", MappingOutcomeUnmapped
}
