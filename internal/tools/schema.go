package tools

import (
	"bytes"
	"encoding/json"
	"io"
)

// mapToReader re-serializes a decoded JSON-Schema document (already a
// map[string]interface{} from the Tool row) back into an io.Reader, the
// input shape github.com/santhosh-tekuri/jsonschema/v6's UnmarshalJSON
// expects. Round-tripping through encoding/json keeps us from having to
// hand-write a map[string]interface{} -> schema-AST walker.
func mapToReader(m map[string]interface{}) io.Reader {
	data, err := json.Marshal(m)
	if err != nil {
		return bytes.NewReader([]byte("{}"))
	}
	return bytes.NewReader(data)
}
