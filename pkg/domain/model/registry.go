package model

import (
	"github.com/m-mizutani/drover/pkg/domain/types"
	"github.com/m-mizutani/goerr/v2"
	"github.com/pelletier/go-toml/v2"
)

// Registry is the optional repository registry loaded from a TOML file.
// Without a registry every repository the GitHub App delivers events for
// is enabled with the default workflow path. With one, only listed
// repositories are enabled.
//
//	[defaults]
//	workflow = ".drover.yml"
//
//	[[repository]]
//	name = "octo/widgets"
//	workflow = "ci/build.yml"
type Registry struct {
	Defaults     RegistryDefaults `toml:"defaults"`
	Repositories []*RepoEntry     `toml:"repository"`
}

// RegistryDefaults applies to repositories without explicit settings.
type RegistryDefaults struct {
	Workflow string `toml:"workflow"`
}

// RepoEntry enables one repository.
type RepoEntry struct {
	Name     string `toml:"name"`
	Workflow string `toml:"workflow"`
}

// ParseRegistry parses and validates a registry document.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := toml.Unmarshal(data, &reg); err != nil {
		return nil, goerr.Wrap(err, "failed to parse registry",
			goerr.T(types.ErrTagValidation))
	}

	for _, entry := range reg.Repositories {
		if entry.Name == "" {
			return nil, goerr.New("registry entry without repository name",
				goerr.T(types.ErrTagValidation))
		}
	}
	return &reg, nil
}

// WorkflowPath resolves the workflow path for a repository and reports
// whether the repository is enabled. A nil registry enables everything.
func (r *Registry) WorkflowPath(repository string) (string, bool) {
	if r == nil {
		return types.DefaultWorkflowPath, true
	}

	def := r.Defaults.Workflow
	if def == "" {
		def = types.DefaultWorkflowPath
	}

	if len(r.Repositories) == 0 {
		return def, true
	}

	for _, entry := range r.Repositories {
		if entry.Name != repository {
			continue
		}
		if entry.Workflow != "" {
			return entry.Workflow, true
		}
		return def, true
	}
	return "", false
}
