package validator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/onesdk/onesdk-go/internal/sdkerrors"
)

// providerJSONSchema is a structural pre-validation schema for provider
// definition documents: it checks shape (services/security/parameters
// are the right JSON types) before internal/binding attempts to interpret
// them semantically.
const providerJSONSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "services"],
  "properties": {
    "name": {"type": "string"},
    "services": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "baseUrl"],
        "properties": {
          "id": {"type": "string"},
          "baseUrl": {"type": "string"}
        }
      }
    },
    "defaultService": {"type": "string"},
    "securitySchemes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "type"],
        "properties": {
          "id": {"type": "string"},
          "type": {"type": "string"}
        }
      }
    },
    "parameters": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string"},
          "default": {}
        }
      }
    }
  }
}`

// superDocumentSchema is a structural pre-validation schema for the
// normalized super-document (spec.md §3 "Normalized super-document").
const superDocumentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "profiles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["priority", "providers"],
        "properties": {
          "version": {"type": "string"},
          "localFilePath": {"type": "string"},
          "priority": {"type": "array", "items": {"type": "string"}},
          "providers": {"type": "object"}
        }
      }
    },
    "providers": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "localFilePath": {"type": "string"},
          "security": {"type": "array"},
          "parameters": {"type": "object"}
        }
      }
    }
  }
}`

var (
	compileOnce    sync.Once
	providerSchema *jsonschema.Schema
	superDocSchema *jsonschema.Schema
	compileErr     error
)

func compileSchemas() {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	if err := c.AddResource("mem://provider.schema.json", strings.NewReader(providerJSONSchema)); err != nil {
		compileErr = fmt.Errorf("loading provider JSON schema: %w", err)
		return
	}
	if err := c.AddResource("mem://superdocument.schema.json", strings.NewReader(superDocumentSchema)); err != nil {
		compileErr = fmt.Errorf("loading super-document schema: %w", err)
		return
	}

	providerSchema, compileErr = c.Compile("mem://provider.schema.json")
	if compileErr != nil {
		compileErr = fmt.Errorf("compiling provider JSON schema: %w", compileErr)
		return
	}
	superDocSchema, compileErr = c.Compile("mem://superdocument.schema.json")
	if compileErr != nil {
		compileErr = fmt.Errorf("compiling super-document schema: %w", compileErr)
	}
}

// ValidateProviderJSONStructure runs structural pre-validation over a
// decoded provider JSON document, before internal/binding interprets it
// semantically.
func ValidateProviderJSONStructure(doc any) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return sdkerrors.NewUnexpectedError("%v", compileErr)
	}
	if err := providerSchema.Validate(doc); err != nil {
		return sdkerrors.NewUnexpectedError("provider JSON failed structural validation: %v", err)
	}
	return nil
}

// ValidateSuperDocumentStructure runs structural pre-validation over a
// decoded normalized super-document.
func ValidateSuperDocumentStructure(doc any) error {
	compileOnce.Do(compileSchemas)
	if compileErr != nil {
		return sdkerrors.NewUnexpectedError("%v", compileErr)
	}
	if err := superDocSchema.Validate(doc); err != nil {
		return sdkerrors.NewUnexpectedError("super-document failed structural validation: %v", err)
	}
	return nil
}
