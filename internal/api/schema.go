package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const submitSchemaURL = "submit.json"

const submitSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["url", "format"],
  "properties": {
    "url": {"type": "string", "minLength": 1, "format": "uri"},
    "format": {"type": "string", "enum": ["pdf", "docx"]}
  }
}`

var submitSchema = mustCompile(submitSchemaURL, submitSchemaJSON)

func mustCompile(url, doc string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(url, strings.NewReader(doc)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", url, err))
	}
	return compiler.MustCompile(url)
}

type SubmitRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
}

// decodeSubmit validates the raw body against the submit schema before
// decoding it. The returned error is safe to show to clients.
func decodeSubmit(body []byte) (SubmitRequest, error) {
	var req SubmitRequest

	var doc any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return req, errors.New("invalid request body")
	}
	if err := submitSchema.Validate(doc); err != nil {
		return req, errors.New(schemaMessage(err))
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, errors.New("invalid request body")
	}
	return req, nil
}

// schemaMessage reduces a validation error to its most specific cause.
func schemaMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	field := strings.TrimPrefix(ve.InstanceLocation, "/")
	if field == "" {
		return ve.Message
	}
	return field + ": " + ve.Message
}
