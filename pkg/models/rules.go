package models

import "time"

type Capture struct {
	Field string `mapstructure:"field" json:"field"`
	Type  string `mapstructure:"type" json:"type"`
}

// PatternRule extracts attributes from a text field. Pattern is either a
// regular expression with named groups or a grok-style expression made of
// %{PATTERN:field:type} references.
type PatternRule struct {
	Name        string    `mapstructure:"name" json:"name"`
	SourceTypes []string  `mapstructure:"source_types" json:"source_types"`
	Pattern     string    `mapstructure:"pattern" json:"pattern"`
	Captures    []Capture `mapstructure:"captures" json:"captures,omitempty"`
	FailureTag  string    `mapstructure:"failure_tag" json:"failure_tag,omitempty"`
	Field       string    `mapstructure:"field" json:"field,omitempty"`
}

const (
	CondEquals    = "equals"
	CondNotEquals = "not_equals"
	CondMatches   = "matches"
	CondRange     = "range"
	CondIn        = "in"
	CondExists    = "exists"
	CondMissing   = "missing"
	CondHasTag    = "has_tag"
	CondContains  = "contains"
	CondCEL       = "cel"
)

type Condition struct {
	Type       string   `mapstructure:"type" json:"type"`
	Field      string   `mapstructure:"field" json:"field,omitempty"`
	Value      string   `mapstructure:"value" json:"value,omitempty"`
	Values     []string `mapstructure:"values" json:"values,omitempty"`
	Min        *float64 `mapstructure:"min" json:"min,omitempty"`
	Max        *float64 `mapstructure:"max" json:"max,omitempty"`
	Pattern    string   `mapstructure:"pattern" json:"pattern,omitempty"`
	Expression string   `mapstructure:"expression" json:"expression,omitempty"`
}

const (
	ActionSet    = "set"
	ActionRename = "rename"
	ActionRemove = "remove"
	ActionTag    = "tag"
	ActionBucket = "bucket"
	ActionLookup = "lookup"
)

// Bucket matches values in [From, Below). A nil bound is open.
type Bucket struct {
	From  *float64 `mapstructure:"from" json:"from,omitempty"`
	Below *float64 `mapstructure:"below" json:"below,omitempty"`
	Label string   `mapstructure:"label" json:"label"`
}

type Action struct {
	Type      string   `mapstructure:"type" json:"type"`
	Field     string   `mapstructure:"field" json:"field,omitempty"`
	Value     string   `mapstructure:"value" json:"value,omitempty"`
	ValueType string   `mapstructure:"value_type" json:"value_type,omitempty"`
	To        string   `mapstructure:"to" json:"to,omitempty"`
	Fields    []string `mapstructure:"fields" json:"fields,omitempty"`
	Tags      []string `mapstructure:"tags" json:"tags,omitempty"`
	Target    string   `mapstructure:"target" json:"target,omitempty"`
	Buckets   []Bucket `mapstructure:"buckets" json:"buckets,omitempty"`
	Provider  string   `mapstructure:"provider" json:"provider,omitempty"`
	Prefix    string   `mapstructure:"prefix" json:"prefix,omitempty"`
}

// EnrichmentRule runs its actions when every condition holds. Rules are
// applied in slice order. A non-zero Order must be strictly greater than
// every earlier non-zero Order, so a config that lists rules out of order
// is rejected instead of silently running them in list order.
type EnrichmentRule struct {
	Name       string      `mapstructure:"name" json:"name"`
	Order      int         `mapstructure:"order" json:"order"`
	Conditions []Condition `mapstructure:"when" json:"when,omitempty"`
	Actions    []Action    `mapstructure:"then" json:"then"`
	SetOnce    bool        `mapstructure:"set_once" json:"set_once"`
}

const (
	BackpressureBlock  = "block"
	BackpressureReject = "reject"
)

type RetrySpec struct {
	MaxAttempts     int           `mapstructure:"max_attempts" json:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval" json:"max_interval"`
	Multiplier      float64       `mapstructure:"multiplier" json:"multiplier"`
}

// Destination describes one output. Predicate is "always", "failure",
// "tag:<name>", "attribute:<name>" or a CEL expression.
type Destination struct {
	Name          string        `mapstructure:"name" json:"name"`
	Writer        string        `mapstructure:"writer" json:"writer"`
	Predicate     string        `mapstructure:"when" json:"when"`
	Target        string        `mapstructure:"target" json:"target"`
	BatchSize     int           `mapstructure:"batch_size" json:"batch_size"`
	MaxIdleTime   time.Duration `mapstructure:"max_idle_time" json:"max_idle_time"`
	QueueCapacity int           `mapstructure:"queue_capacity" json:"queue_capacity"`
	Workers       int           `mapstructure:"workers" json:"workers"`
	FlushTimeout  time.Duration `mapstructure:"flush_timeout" json:"flush_timeout"`
	Backpressure  string        `mapstructure:"backpressure" json:"backpressure"`
	Retry         RetrySpec     `mapstructure:"retry" json:"retry"`
	DebugOnly     bool          `mapstructure:"debug_only" json:"debug_only"`
}

// RoutingDecision lists the destinations an event was accepted by.
type RoutingDecision struct {
	EventID      string
	Destinations []string
}

func (d RoutingDecision) Includes(name string) bool {
	for _, n := range d.Destinations {
		if n == name {
			return true
		}
	}
	return false
}
