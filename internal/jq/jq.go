// Package jq applies jq expressions to JSON documents, for slicing summary
// and report output on the command line.
package jq

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/itchyny/gojq"
)

// QueryFile reads the JSON file and applies the jq expression to it.
func QueryFile(filePath string, jqQuery string) ([]byte, error) {
	jsonContent, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return Query(jsonContent, jqQuery)
}

// Query applies the jq expression to the JSON content. A query yielding one
// value returns that value's JSON; multiple values come back as a JSON
// array.
func Query(jsonContent []byte, jqQuery string) ([]byte, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, err
	}

	var jsonData any
	if err := json.Unmarshal(jsonContent, &jsonData); err != nil {
		return nil, err
	}

	var values []any
	iter := query.Run(jsonData)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, err
		}
		values = append(values, v)
	}

	switch len(values) {
	case 0:
		return nil, fmt.Errorf("jq query %q produced no result", jqQuery)
	case 1:
		return json.Marshal(values[0])
	default:
		return json.Marshal(values)
	}
}
