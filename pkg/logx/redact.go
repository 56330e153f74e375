package logx

import "strings"

const redacted = "*****"

// defaultRedactKeys are always masked, on top of Config.RedactKeys.
var defaultRedactKeys = []string{
	"password",
	"secret",
	"client_secret",
	"token",
	"access_token",
	"authorization",
	"cookie",
	"session_id",
	"auth_code",
}

type redactor map[string]struct{}

func newRedactor(extra []string) redactor {
	r := make(redactor, len(defaultRedactKeys)+len(extra))
	for _, k := range defaultRedactKeys {
		r[k] = struct{}{}
	}
	for _, k := range extra {
		if k = strings.TrimSpace(k); k != "" {
			r[strings.ToLower(k)] = struct{}{}
		}
	}
	return r
}

// apply returns a copy of fields with sensitive values masked.
func (r redactor) apply(fields Fields) Fields {
	if len(fields) == 0 {
		return fields
	}
	out := make(Fields, len(fields))
	for k, v := range fields {
		if _, hit := r[strings.ToLower(k)]; hit {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}
