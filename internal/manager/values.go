package manager

// Lease operations receive their parameters as loosely typed maps: the
// wire contract is JSON and plugins consume the same values verbatim.
// These helpers pull the well-known keys out.

func stringValue(values map[string]interface{}, key string) (string, bool) {
	v, ok := values[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func listValue(values map[string]interface{}, key string) []map[string]interface{} {
	v, ok := values[key]
	if !ok {
		return nil
	}
	var out []map[string]interface{}
	switch list := v.(type) {
	case []map[string]interface{}:
		out = list
	case []interface{}:
		for _, item := range list {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
	}
	return out
}

func requireParams(values map[string]interface{}, params ...string) error {
	var missing []string
	for _, p := range params {
		if s, ok := stringValue(values, p); !ok || s == "" {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return missingParameter(missing...)
	}
	return nil
}
