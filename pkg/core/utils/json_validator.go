package utils

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"
)

// RepairJSON fixes the usual model-output damage: unquoted keys, single
// quotes, trailing commas, unclosed objects, comments.
func RepairJSON(malformedJSON string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformedJSON)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %v", err)
	}
	return repaired, nil
}

// ParseHJSON parses Hjson and returns standard JSON.
func ParseHJSON(hjsonData string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(hjsonData), &result); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %v", err)
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %v", err)
	}
	return string(jsonBytes), nil
}

// SmartParse decodes input into schema, trying in order:
// 1. Standard JSON
// 2. JSON repair
// 3. Hjson (most lenient)
//
// The returned string is the JSON text that finally decoded.
func SmartParse(input string, schema interface{}) (string, error) {
	if err := json.Unmarshal([]byte(input), schema); err == nil {
		return input, nil
	}

	if repaired, err := RepairJSON(input); err == nil {
		if err := json.Unmarshal([]byte(repaired), schema); err == nil {
			return repaired, nil
		}
	}

	if hjsonResult, err := ParseHJSON(input); err == nil {
		if err := json.Unmarshal([]byte(hjsonResult), schema); err == nil {
			return hjsonResult, nil
		}
	}

	return "", fmt.Errorf("SMART_PARSE_FAILED: all parsing strategies failed for input")
}

// SmartParseObject is SmartParse into a generic JSON object. Arrays and
// scalars at the top level are rejected.
func SmartParseObject(input string) (map[string]interface{}, error) {
	if !strings.Contains(input, "{") {
		return nil, fmt.Errorf("SMART_PARSE_FAILED: no JSON object in input")
	}
	var out map[string]interface{}
	if _, err := SmartParse(input, &out); err != nil {
		return nil, err
	}
	if out == nil {
		return nil, fmt.Errorf("SMART_PARSE_FAILED: top-level value is not an object")
	}
	return out, nil
}
