package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/tzfnuist/ClimWIP/internal/ensemble"
)

//go:embed schema.json
var schemaJSON string

var (
	schemaPrinter = message.NewPrinter(language.English)
	configSchema  = mustCompileSchema(schemaJSON, "climwip.schema.json")
)

func mustCompileSchema(raw, name string) *jsonschema.Schema {
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		panic(fmt.Sprintf("parse embedded %s: %v", name, err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		panic(fmt.Sprintf("add %s: %v", name, err))
	}
	sch, err := c.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("compile %s: %v", name, err))
	}
	return sch
}

// CheckSchema validates a raw YAML configuration document against the
// embedded schema. Unknown keys and mistyped values are reported with their
// location, one per line.
func CheckSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return ensemble.Configf("parse config: %v", err)
	}
	if doc == nil {
		return nil
	}
	err := configSchema.Validate(doc)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return ensemble.Configf("schema: %v", err)
	}
	var causes []string
	collectSchemaErrors(ve, &causes)
	return ensemble.Configf("invalid config:\n  %s", strings.Join(causes, "\n  "))
}

func collectSchemaErrors(ve *jsonschema.ValidationError, out *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/" + strings.Join(ve.InstanceLocation, "/")
		*out = append(*out, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, out)
	}
}
