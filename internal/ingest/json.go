package ingest

import (
	"bytes"
	"encoding/json"
	"strings"

	"healthbridge/internal/normalize"
)

// ParseJSONBytes reads one reading object. Both the flat form
// {"userId","type","value",...} and the nested device-reading form
// {"userId","vitalSign":{...},"deviceInfo":{...}} are accepted.
func ParseJSONBytes(data []byte) (*normalize.Fields, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	fields := ParseJSONMap(obj)
	fields.Raw = string(data)
	return fields, nil
}

// ParseJSONList accepts a single object or an array of objects.
func ParseJSONList(data []byte) ([]*normalize.Fields, error) {
	trim := bytes.TrimSpace(data)
	if len(trim) > 0 && trim[0] == '[' {
		var list []map[string]json.RawMessage
		if err := json.Unmarshal(trim, &list); err != nil {
			return nil, err
		}
		out := make([]*normalize.Fields, 0, len(list))
		for _, obj := range list {
			out = append(out, ParseJSONMap(obj))
		}
		return out, nil
	}
	fields, err := ParseJSONBytes(trim)
	if err != nil {
		return nil, err
	}
	return []*normalize.Fields{fields}, nil
}

func ParseJSONMap(obj map[string]json.RawMessage) *normalize.Fields {
	flat := lowerKeys(obj)
	for _, key := range []string{"vitalsign", "vital_sign", "reading"} {
		if nested, ok := flat[key]; ok {
			var inner map[string]json.RawMessage
			if err := json.Unmarshal(nested, &inner); err == nil {
				for k, v := range lowerKeys(inner) {
					flat[k] = v
				}
			}
		}
	}
	fields := &normalize.Fields{
		UserID:    firstRaw(flat, "userid", "user_id", "user", "patientid", "patient_id"),
		Type:      firstRaw(flat, "type", "vitaltype", "vital_type", "metric"),
		Value:     firstRaw(flat, "value", "reading_value"),
		Unit:      firstRaw(flat, "unit", "units"),
		Timestamp: firstRaw(flat, "timestamp", "ts", "time"),
		DeviceID:  firstRaw(flat, "deviceid", "device_id", "device"),
	}
	if raw, ok := flat["deviceinfo"]; ok {
		var info map[string]any
		if err := json.Unmarshal(raw, &info); err == nil && len(info) > 0 {
			fields.DeviceInfo = info
			if fields.DeviceID == "" {
				for _, k := range []string{"deviceId", "id", "serial"} {
					if s, ok := info[k].(string); ok && s != "" {
						fields.DeviceID = s
						break
					}
				}
			}
		}
	}
	return fields
}

func lowerKeys(obj map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(obj))
	for k, v := range obj {
		out[strings.ToLower(k)] = v
	}
	return out
}

func firstRaw(m map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		if v := rawText(m[k]); v != "" {
			return v
		}
	}
	return ""
}

// rawText keeps number literals verbatim so epoch milliseconds never pass
// through float64 formatting.
func rawText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	if raw[0] == '{' || raw[0] == '[' {
		return ""
	}
	return string(raw)
}
