package cel

// Built-in route predicates, expressed in CEL so they can be overridden
// per destination.
const (
	AlwaysExpression       = `true`
	FailureExpression      = `"malformed" in tags || tags.exists(t, t.endsWith("_failure"))`
	SecurityExpression     = `"security" in tags`
	ResponseTimeExpression = `"response_time" in attributes`
)

// PredicateExamples documents expressions accepted by destination and
// enrichment predicates.
var PredicateExamples = map[string]string{
	"always":            AlwaysExpression,
	"failure":           FailureExpression,
	"security":          SecurityExpression,
	"has_response_time": ResponseTimeExpression,
	"slow_requests":     `"response_time" in attributes && attributes.response_time > 2000`,
	"server_errors":     `"status_code" in attributes && attributes.status_code >= 500`,
	"syslog_auth":       `source_type == "syslog" && "facility" in attributes && attributes.facility == "auth"`,
	"service_in":        `"service" in attributes && attributes.service in ["auth-service", "payment-service"]`,
	"message_contains":  `message.contains("timeout")`,
}
