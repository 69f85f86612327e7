package trace

import (
	"strings"
)

// Framework is the agent framework that produced a trace.
type Framework string

const (
	FrameworkCrewAI    Framework = "crewai"
	FrameworkLangChain Framework = "langchain"
	FrameworkUnknown   Framework = "unknown"
)

// Instrumentation scope names that identify a framework outright.
const (
	ScopeCrewAI    = "openinference.instrumentation.crewai"
	ScopeLangChain = "openinference.instrumentation.langchain"
)

// ScopeAttribute is the span attribute carrying the instrumentation scope
// name, appended to every span during ingestion.
const ScopeAttribute = "otel.scope.name"

// Info is the trace-level metadata derived from the raw spans.
type Info struct {
	Framework        Framework `json:"framework"`
	ProjectName      string    `json:"project_name,omitempty"`
	RunID            string    `json:"run_id,omitempty"`
	SpecificationsID string    `json:"specifications_id,omitempty"`
	ScenarioID       string    `json:"scenario_id,omitempty"`
	StartTime        int64     `json:"start_time"`
	Duration         float64   `json:"duration"`
}

func (i Info) complete() bool {
	return i.ProjectName != "" && i.RunID != "" && i.SpecificationsID != "" &&
		i.ScenarioID != "" && i.Framework != FrameworkUnknown
}

// Analyze scans spans in order and fills each field from the first span
// that carries it. Instrumentation scope names then override the framework.
func Analyze(spans []RawSpan) Info {
	info := Info{Framework: FrameworkUnknown}
	if len(spans) == 0 {
		return info
	}

	for _, s := range spans {
		if info.complete() {
			break
		}
		if info.ProjectName == "" {
			info.ProjectName = StringValue(s.Resource.Attributes, "openinference.project.name")
		}
		if info.RunID == "" {
			info.RunID = StringValue(s.Resource.Attributes, "eval.run.id")
		}
		if info.SpecificationsID == "" {
			info.SpecificationsID = StringValue(s.Attributes, "eval.specifications.id")
			if info.SpecificationsID == "" {
				info.SpecificationsID = StringValue(s.Attributes, "eval.dataset.id")
			}
		}
		if info.ScenarioID == "" {
			info.ScenarioID = StringValue(s.Attributes, "eval.uuid")
		}
		if info.Framework == FrameworkUnknown {
			info.Framework = guessFramework(StringValue(s.Attributes, ScopeAttribute))
		}
	}

	for _, s := range spans {
		if fw, ok := scopeFramework(s); ok {
			info.Framework = fw
			break
		}
	}

	start, end := int64(spans[0].StartTimeUnixNano), int64(spans[0].EndTimeUnixNano)
	for _, s := range spans[1:] {
		if v := int64(s.StartTimeUnixNano); v < start {
			start = v
		}
		if v := int64(s.EndTimeUnixNano); v > end {
			end = v
		}
	}
	info.StartTime = start
	info.Duration = float64(end-start) / 1e9
	return info
}

func guessFramework(scope string) Framework {
	lower := strings.ToLower(scope)
	switch {
	case strings.Contains(lower, "crewai"):
		return FrameworkCrewAI
	case strings.Contains(lower, "langchain"):
		return FrameworkLangChain
	}
	return FrameworkUnknown
}

func scopeFramework(s RawSpan) (Framework, bool) {
	name := ""
	if s.Scope != nil {
		name = s.Scope.Name
	}
	if name == "" {
		name = StringValue(s.Attributes, ScopeAttribute)
	}
	switch name {
	case ScopeCrewAI:
		return FrameworkCrewAI, true
	case ScopeLangChain:
		return FrameworkLangChain, true
	}
	return "", false
}

// Trace is one reconstructed execution.
type Trace struct {
	ID   string
	Tree *Tree
	Info Info
}

// Build reconstructs the span tree of one trace and derives its metadata.
func Build(traceID string, spans []RawSpan) (*Trace, error) {
	tree, err := BuildTree(spans)
	if err != nil {
		return nil, err
	}
	return &Trace{
		ID:   NormalizeID(traceID),
		Tree: tree,
		Info: Analyze(spans),
	}, nil
}
