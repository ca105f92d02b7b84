package catalog

import (
	"encoding/json"
	"strings"

	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/errs"
	"github.com/bigdegenenergy/open-cloud-ops/pilot/pkg/models"
)

// ParseAliasOverrides parses the startup override format:
// "alias=provider:model" pairs separated by semicolons. Empty segments are
// skipped; a malformed pair fails the whole parse.
func ParseAliasOverrides(s string) ([]models.ModelAlias, error) {
	var out []models.ModelAlias
	for _, pair := range strings.Split(s, ";") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, target, found := strings.Cut(pair, "=")
		if !found {
			return nil, errs.InvalidReference(pair, "expected alias=provider:model")
		}
		a, err := aliasFromTarget(strings.TrimSpace(name), strings.TrimSpace(target))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// aliasDocument is the JSON override format: {"aliases": {name: "provider:model"}}.
type aliasDocument struct {
	Aliases map[string]string `json:"aliases"`
}

// ParseAliasJSON parses the JSON override document form.
func ParseAliasJSON(data []byte) ([]models.ModelAlias, error) {
	var doc aliasDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errs.InvalidReference("aliases", "malformed JSON document: "+err.Error())
	}
	out := make([]models.ModelAlias, 0, len(doc.Aliases))
	for name, target := range doc.Aliases {
		a, err := aliasFromTarget(name, target)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func aliasFromTarget(name, target string) (models.ModelAlias, error) {
	if name == "" {
		return models.ModelAlias{}, errs.InvalidReference(target, "empty alias name")
	}
	provider, model, qualified := models.SplitQualifiedName(target)
	if !qualified || provider == "" || model == "" {
		return models.ModelAlias{}, errs.InvalidReference(target, "alias target must be provider:model")
	}
	return models.ModelAlias{Alias: name, Provider: provider, Model: model}, nil
}

// ApplyAliases registers each alias on the catalog.
func (c *Catalog) ApplyAliases(aliases []models.ModelAlias) {
	for _, a := range aliases {
		c.RegisterAlias(a)
	}
}
