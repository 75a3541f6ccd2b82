package policy

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/hps-group/dealengine/internal/model"
)

// LoadDefaults reads an org policy document from a YAML file.
func LoadDefaults(path string) (*model.PolicyDefaults, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "policy: read defaults %s", path)
	}

	// The YAML has a top-level "policy" key.
	var wrapper struct {
		Policy model.PolicyDefaults `yaml:"policy"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "policy: parse defaults")
	}

	defaults := &wrapper.Policy
	for p := range defaults.Postures {
		if !model.ValidPosture(p) {
			return nil, eris.Errorf("policy: defaults contain unknown posture %q", p)
		}
	}
	return defaults, nil
}
