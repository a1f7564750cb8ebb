package ingest

import (
	"encoding/csv"
	"regexp"
	"strings"

	"healthbridge/internal/normalize"
)

var reKV = regexp.MustCompile(`(?i)([a-zA-Z_]+)=("[^"]*"|[^\s]+)`)

// Parser reads one reading per line: JSON, CSV (userId,type,value,unit,
// timestamp[,deviceId] or with a header row) or key=value pairs. A Parser
// remembers the CSV header, so use one per stream.
type Parser struct {
	csv *CSVParser
}

func NewParser() *Parser {
	return &Parser{csv: NewCSVParser()}
}

// ParseLine returns nil fields for blank lines and CSV header rows.
func (p *Parser) ParseLine(line string) (*normalize.Fields, error) {
	trim := strings.TrimSpace(line)
	if trim == "" {
		return nil, nil
	}
	if looksLikeJSON(trim) {
		if fields, err := ParseJSONBytes([]byte(trim)); err == nil {
			fields.Raw = line
			return fields, nil
		}
	}
	if strings.Contains(trim, "=") && !strings.Contains(trim, ",") {
		fields := parseKV(trim)
		fields.Raw = line
		return fields, nil
	}
	fields, err := p.csv.Parse(trim)
	if err != nil {
		return nil, err
	}
	if fields != nil {
		fields.Raw = line
	}
	return fields, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func parseKV(line string) *normalize.Fields {
	fields := &normalize.Fields{}
	for _, match := range reKV.FindAllStringSubmatch(line, -1) {
		assignField(fields, match[1], strings.Trim(match[2], `"`))
	}
	return fields
}

type CSVParser struct {
	header []string
}

func NewCSVParser() *CSVParser {
	return &CSVParser{}
}

var positional = []string{"userid", "type", "value", "unit", "timestamp", "deviceid"}

func (p *CSVParser) Parse(line string) (*normalize.Fields, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	if len(record) == 0 {
		return nil, nil
	}
	if p.header == nil && looksLikeHeader(record) {
		p.header = normalizeHeader(record)
		return nil, nil
	}
	names := p.header
	if names == nil {
		names = positional
	}
	fields := &normalize.Fields{}
	for i, name := range names {
		if i >= len(record) {
			break
		}
		assignField(fields, name, record[i])
	}
	return fields, nil
}

func looksLikeHeader(record []string) bool {
	for _, v := range record {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "userid", "user_id", "type", "value", "unit", "timestamp", "ts":
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	out := make([]string, len(record))
	for i, v := range record {
		out[i] = strings.ToLower(strings.TrimSpace(v))
	}
	return out
}

func assignField(fields *normalize.Fields, name string, value string) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "userid", "user_id", "user", "patientid", "patient_id":
		fields.UserID = value
	case "type", "vitaltype", "vital_type", "metric":
		fields.Type = value
	case "value":
		fields.Value = value
	case "unit", "units":
		fields.Unit = value
	case "timestamp", "time", "ts":
		fields.Timestamp = value
	case "deviceid", "device_id", "device":
		fields.DeviceID = value
	}
}
