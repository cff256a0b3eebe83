package display

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Encode writes v to w in the given structured format
func Encode(w io.Writer, format OutputFormat, v interface{}) error {
	var (
		data []byte
		err  error
	)

	switch format {
	case FormatJSON:
		data, err = json.MarshalIndent(v, "", "  ")
		if err == nil {
			data = append(data, '\n')
		}
	case FormatYAML:
		data, err = yaml.Marshal(v)
	case FormatTOML:
		data, err = encodeTOML(v)
	default:
		return fmt.Errorf("unsupported structured format: %s", format)
	}
	if err != nil {
		return fmt.Errorf("failed to encode %s output: %w", format, err)
	}

	_, err = w.Write(data)
	return err
}

// encodeTOML wraps non-table roots, since a TOML document must be a table
func encodeTOML(v interface{}) ([]byte, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer && !rv.IsNil() {
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Struct, reflect.Map:
	default:
		v = map[string]interface{}{"items": v}
	}

	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	enc.SetIndentTables(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TableRecords converts a header/rows table to a list of maps for structured output
func TableRecords(headers []string, rows [][]string) []map[string]string {
	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}
