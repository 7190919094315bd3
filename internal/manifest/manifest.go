// Package manifest decodes declarative YAML workload documents into
// workload specs. The reconciler core never parses text itself; this
// is the operator-facing edge used by orbctl and the HTTP API.
package manifest

import (
	"fmt"
	"strings"

	"sigs.k8s.io/yaml"

	"github.com/orbit-sh/orbitd/internal/models"
)

// KindWorkload is the only document kind orbitd understands.
const KindWorkload = "Workload"

type document struct {
	Kind     string   `json:"kind"`
	Metadata metadata `json:"metadata"`
	Spec     spec     `json:"spec"`
}

type metadata struct {
	Name string `json:"name"`
}

type spec struct {
	Image     string            `json:"image"`
	Replicas  int               `json:"replicas"`
	Port      int               `json:"port"`
	Resources models.Resources  `json:"resources"`
	Env       map[string]string `json:"env"`
}

// Decode parses one or more YAML documents (separated by `---`) into
// workload specs. Documents of a foreign kind are rejected rather than
// skipped: a typo in kind should not silently drop a workload.
func Decode(data []byte) ([]models.WorkloadSpec, error) {
	docs := splitDocuments(string(data))
	if len(docs) == 0 {
		return nil, fmt.Errorf("manifest is empty")
	}

	var out []models.WorkloadSpec
	for i, raw := range docs {
		var doc document
		if err := yaml.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		if doc.Kind != KindWorkload {
			return nil, fmt.Errorf("document %d: unsupported kind %q", i+1, doc.Kind)
		}
		out = append(out, models.WorkloadSpec{
			Name:      doc.Metadata.Name,
			Image:     doc.Spec.Image,
			Replicas:  doc.Spec.Replicas,
			Port:      doc.Spec.Port,
			Resources: doc.Spec.Resources,
			Env:       doc.Spec.Env,
		})
	}
	return out, nil
}

func splitDocuments(data string) []string {
	var docs []string
	for _, doc := range strings.Split(data, "\n---") {
		doc = strings.TrimSpace(strings.TrimPrefix(doc, "---"))
		if doc != "" {
			docs = append(docs, doc)
		}
	}
	return docs
}
