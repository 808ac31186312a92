package extraction

import "sluice/pkg/models"

// SourceTypeAccess marks web-server access log lines.
const SourceTypeAccess = "access"

// DefaultRules is the rule set used when the configuration declares none.
func DefaultRules() []models.PatternRule {
	return []models.PatternRule{
		{
			Name:        "app_log",
			SourceTypes: []string{models.SourceTypeApp},
			Pattern:     `^%{TIMESTAMP_ISO8601:timestamp}\s+%{LOGLEVEL:level}\s+\[%{DATA:component}\]\s+%{GREEDYDATA:log_message}$`,
		},
		{
			Name:        "access_log",
			SourceTypes: []string{SourceTypeAccess},
			Pattern: `^%{IPORHOST:client_ip} %{USER:ident} %{USER:auth} \[%{HTTPDATE:timestamp}\] ` +
				`"%{HTTPMETHOD:method} %{NOTSPACE:path}(?: HTTP/%{NUMBER:http_version})?" ` +
				`%{INT:status_code:int} (?:%{INT:bytes:int}|-)(?: %{NUMBER:response_time:float})?`,
		},
	}
}
