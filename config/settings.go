package config

// Settings is a nested key/value structure carrying transport tuning that
// is opaque to the core: QoS overrides live under well-known paths like
// ("device", "control") and ("device", "metadata"). The device server
// resolves them at init time; absent paths mean "use defaults".
type Settings map[string]any

// Nested descends into the settings along the given keys. A missing key or
// a non-map value at any level yields nil, which every accessor treats as
// "not configured".
func (s Settings) Nested(keys ...string) Settings {
	cur := s
	for _, key := range keys {
		if cur == nil {
			return nil
		}
		v, ok := cur[key]
		if !ok {
			return nil
		}
		switch m := v.(type) {
		case Settings:
			cur = m
		case map[string]any:
			cur = Settings(m)
		default:
			return nil
		}
	}
	return cur
}

// String returns the named string value, or def when absent or mistyped.
func (s Settings) String(key, def string) string {
	if s == nil {
		return def
	}
	if v, ok := s[key].(string); ok {
		return v
	}
	return def
}

// Int returns the named integer value, or def when absent or mistyped.
// JSON and YAML decoders disagree about number types, so all common
// numeric representations are accepted.
func (s Settings) Int(key string, def int) int {
	if s == nil {
		return def
	}
	switch v := s[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case uint64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

// Bool returns the named boolean value, or def when absent or mistyped.
func (s Settings) Bool(key string, def bool) bool {
	if s == nil {
		return def
	}
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}
