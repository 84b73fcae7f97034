package jobs

import (
	"bytes"
	_ "embed"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/job_request.schema.json
var requestSchemaJSON string

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func requestSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString("job_request.schema.json", requestSchemaJSON)
	})
	return schema, schemaErr
}

// Decode parses a submitted job request. The body is checked against the
// job request schema before it is decoded, then the typed request is validated.
func Decode(body []byte) (*Request, error) {
	s, err := requestSchema()
	if err != nil {
		return nil, eris.Wrap(err, "compile job request schema")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, eris.Wrapf(ErrMalformedJob, "invalid json: %v", err)
	}
	if dec.More() {
		return nil, eris.Wrap(ErrMalformedJob, "trailing data after job request")
	}
	if err := s.Validate(doc); err != nil {
		return nil, eris.Wrapf(ErrMalformedJob, "%v", err)
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, eris.Wrapf(ErrMalformedJob, "decode: %v", err)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	return &req, nil
}
