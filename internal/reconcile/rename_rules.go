package reconcile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	renameRulesReadErrorTemplateConstant  = "unable to read rename rules file %s: %w"
	renameRulesParseErrorTemplateConstant = "unable to parse rename rules file %s: %w"
)

// renameRulesDocument is the on-disk shape of an explicit 1:1 name map.
type renameRulesDocument struct {
	Repositories map[string]string `yaml:"repositories"`
}

// LoadNameMap reads an explicit source-to-destination name map from a YAML
// file. Empty keys and values are dropped.
func LoadNameMap(nameMapFilePath string) (map[string]string, error) {
	fileContents, readError := os.ReadFile(nameMapFilePath)
	if readError != nil {
		return nil, fmt.Errorf(renameRulesReadErrorTemplateConstant, nameMapFilePath, readError)
	}

	var document renameRulesDocument
	if parseError := yaml.Unmarshal(fileContents, &document); parseError != nil {
		return nil, fmt.Errorf(renameRulesParseErrorTemplateConstant, nameMapFilePath, parseError)
	}

	nameMap := make(map[string]string, len(document.Repositories))
	for sourceName, destinationName := range document.Repositories {
		trimmedSource := strings.TrimSpace(sourceName)
		trimmedDestination := strings.TrimSpace(destinationName)
		if len(trimmedSource) == 0 || len(trimmedDestination) == 0 {
			continue
		}
		nameMap[trimmedSource] = trimmedDestination
	}
	return nameMap, nil
}
