// Package manual provides the operation manual: the workflow steps attached
// to an execution plan, tailored to urgency, amount and institution credibility.
package manual

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/helm-guardian/pkg/contracts"
)

// CredibilityFloor is the institution credibility below which verification
// steps are enhanced.
const CredibilityFloor = 0.7

// Manual holds step templates per operation type.
type Manual struct {
	mu            sync.RWMutex
	templates     map[contracts.OperationType][]contracts.WorkflowStep
	largePayment  int64
	maxSignatures int
}

// New creates a manual with the built-in templates.
func New(largePayment int64, maxSignatures int) *Manual {
	if maxSignatures < 1 {
		maxSignatures = 5
	}
	return &Manual{
		templates:     defaultTemplates(),
		largePayment:  largePayment,
		maxSignatures: maxSignatures,
	}
}

// SetTemplate replaces the template for an operation type.
func (m *Manual) SetTemplate(op contracts.OperationType, steps []contracts.WorkflowStep) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.templates[op] = cloneSteps(steps)
}

// Template returns a copy of the stored template.
func (m *Manual) Template(op contracts.OperationType) []contracts.WorkflowStep {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return cloneSteps(m.templates[op])
}

// OperationTypes lists operation types with a template, sorted.
func (m *Manual) OperationTypes() []contracts.OperationType {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]contracts.OperationType, 0, len(m.templates))
	for op := range m.templates {
		out = append(out, op)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type templateFile struct {
	Templates map[contracts.OperationType][]yamlStep `yaml:"templates"`
}

type yamlStep struct {
	ID         string         `yaml:"id"`
	Kind       string         `yaml:"kind"`
	Name       string         `yaml:"name"`
	Required   bool           `yaml:"required"`
	Minutes    int            `yaml:"minutes"`
	DependsOn  []string       `yaml:"depends_on"`
	Parameters map[string]any `yaml:"parameters"`
}

// LoadTemplates reads templates from YAML and overrides the matching
// built-in ones.
func (m *Manual) LoadTemplates(r io.Reader) error {
	var f templateFile
	if err := yaml.NewDecoder(r).Decode(&f); err != nil {
		return fmt.Errorf("decode templates: %w", err)
	}
	for op, ys := range f.Templates {
		steps := make([]contracts.WorkflowStep, 0, len(ys))
		for _, y := range ys {
			if y.ID == "" || y.Kind == "" {
				return fmt.Errorf("template %s: step id and kind are required", op)
			}
			steps = append(steps, contracts.WorkflowStep{
				StepID:           y.ID,
				Kind:             y.Kind,
				Name:             y.Name,
				Required:         y.Required,
				EstimatedMinutes: y.Minutes,
				DependsOn:        y.DependsOn,
				Parameters:       y.Parameters,
			})
		}
		m.SetTemplate(op, steps)
	}
	return nil
}

// Steps returns the customised steps for an operation. Unknown operation
// types fall back to the general emergency template.
func (m *Manual) Steps(op contracts.OperationType, amount contracts.Money, a contracts.Assessment) []contracts.WorkflowStep {
	m.mu.RLock()
	base, ok := m.templates[op]
	if !ok {
		base = m.templates[contracts.OperationGeneralEmergency]
	}
	steps := cloneSteps(base)
	m.mu.RUnlock()

	for i := range steps {
		m.customise(&steps[i], amount, a)
	}
	return steps
}

func (m *Manual) customise(s *contracts.WorkflowStep, amount contracts.Money, a contracts.Assessment) {
	switch {
	case a.UrgencyScore >= 90:
		s.EstimatedMinutes = max(5, s.EstimatedMinutes/2)
		if n, ok := intParam(s.Parameters, "required_signatures"); ok {
			s.Parameters["required_signatures"] = max(1, n-1)
		}
	case a.UrgencyScore >= 75:
		s.EstimatedMinutes = max(10, s.EstimatedMinutes*3/4)
	}

	if m.largePayment > 0 && amount.ExceedsMajor(m.largePayment) {
		if n, ok := intParam(s.Parameters, "required_signatures"); ok {
			s.Parameters["required_signatures"] = min(m.maxSignatures, n+1)
		}
	}

	if a.InstitutionCredibility < CredibilityFloor && s.Kind == KindVerification {
		if s.Parameters == nil {
			s.Parameters = make(map[string]any)
		}
		s.Parameters["enhanced_verification"] = true
		s.EstimatedMinutes += 15
	}
}

// TotalMinutes sums the estimated minutes of required steps.
func TotalMinutes(steps []contracts.WorkflowStep) int {
	total := 0
	for _, s := range steps {
		if s.Required {
			total += s.EstimatedMinutes
		}
	}
	return total
}

func intParam(p map[string]any, key string) (int, bool) {
	switch v := p[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func cloneSteps(in []contracts.WorkflowStep) []contracts.WorkflowStep {
	if in == nil {
		return nil
	}
	plan := contracts.ExecutionPlan{Steps: in}
	return plan.Clone().Steps
}
