package enrichment

import (
	"sluice/internal/constants"
	"sluice/pkg/models"
)

func bound(f float64) *float64 { return &f }

// StatusCodeBuckets classifies HTTP status codes by class.
func StatusCodeBuckets() []models.Bucket {
	return []models.Bucket{
		{From: bound(200), Below: bound(300), Label: "success"},
		{From: bound(300), Below: bound(400), Label: "redirect"},
		{From: bound(400), Below: bound(500), Label: "client_error"},
		{From: bound(500), Below: bound(600), Label: "server_error"},
	}
}

// ResponseTimeBuckets classifies response times in milliseconds.
func ResponseTimeBuckets() []models.Bucket {
	return []models.Bucket{
		{Below: bound(100), Label: "fast"},
		{From: bound(100), Below: bound(500), Label: "normal"},
		{From: bound(500), Below: bound(2000), Label: "slow"},
		{From: bound(2000), Label: "very_slow"},
	}
}

var securityComponents = []string{"auth", "security", "login", "sshd"}

// DefaultRules is the chain used when the configuration declares none.
func DefaultRules() []models.EnrichmentRule {
	return []models.EnrichmentRule{
		{
			Name:       "service_from_component",
			Order:      10,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "component"}},
			Actions:    []models.Action{{Type: models.ActionSet, Field: "service", Value: "%{component}"}},
		},
		{
			Name:       "service_from_app_name",
			Order:      11,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "app_name"}},
			Actions:    []models.Action{{Type: models.ActionSet, Field: "service", Value: "%{app_name}"}},
		},
		{
			Name:       "service_from_container",
			Order:      12,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "container_name"}},
			Actions:    []models.Action{{Type: models.ActionSet, Field: "service", Value: "%{container_name}"}},
		},
		{
			Name:    "service_unknown",
			Order:   19,
			SetOnce: true,
			Actions: []models.Action{{Type: models.ActionSet, Field: "service", Value: constants.UnknownService}},
		},
		{
			Name:       "response_category",
			Order:      20,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "status_code"}},
			Actions: []models.Action{{
				Type:    models.ActionBucket,
				Field:   "status_code",
				Target:  "response_category",
				Buckets: StatusCodeBuckets(),
			}},
		},
		{
			Name:       "performance_category",
			Order:      30,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "response_time"}},
			Actions: []models.Action{{
				Type:    models.ActionBucket,
				Field:   "response_time",
				Target:  "performance_category",
				Buckets: ResponseTimeBuckets(),
			}},
		},
		{
			Name:       "geoip",
			Order:      40,
			SetOnce:    true,
			Conditions: []models.Condition{{Type: models.CondExists, Field: "client_ip"}},
			Actions:    []models.Action{{Type: models.ActionLookup, Field: "client_ip", Prefix: "geo_"}},
		},
		{
			Name:       "password_related",
			Order:      50,
			Conditions: []models.Condition{{Type: models.CondContains, Value: "password"}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{"password_related"}}},
		},
		{
			Name:       "failure_keyword",
			Order:      60,
			Conditions: []models.Condition{{Type: models.CondContains, Values: []string{"fail", "failed"}}},
			Actions:    []models.Action{{Type: models.ActionTag, Tags: []string{models.TagFailure}}},
		},
		{
			Name:  "security_component",
			Order: 70,
			Conditions: []models.Condition{
				{Type: models.CondHasTag, Value: models.TagFailure},
				{Type: models.CondIn, Field: "component", Values: securityComponents},
			},
			Actions: []models.Action{{Type: models.ActionTag, Tags: []string{models.TagSecurity}}},
		},
		{
			Name:  "security_app_name",
			Order: 71,
			Conditions: []models.Condition{
				{Type: models.CondHasTag, Value: models.TagFailure},
				{Type: models.CondIn, Field: "app_name", Values: securityComponents},
			},
			Actions: []models.Action{{Type: models.ActionTag, Tags: []string{models.TagSecurity}}},
		},
		{
			Name:  "security_syslog_auth",
			Order: 72,
			Conditions: []models.Condition{
				{Type: models.CondHasTag, Value: models.TagFailure},
				{Type: models.CondCEL, Expression: `source_type == "syslog" && "facility" in attributes && attributes.facility in ["auth", "authpriv"]`},
			},
			Actions: []models.Action{{Type: models.ActionTag, Tags: []string{models.TagSecurity}}},
		},
	}
}
