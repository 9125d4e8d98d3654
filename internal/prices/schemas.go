package prices

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"defisync/internal/backend"
)

// Schema names one of the price schemas
type Schema string

const (
	SchemaAssetPriceResponse           Schema = "asset_price_response"
	SchemaHistoricPrices               Schema = "historic_prices"
	SchemaManualPrices                 Schema = "manual_prices"
	SchemaHistoricalPrices             Schema = "historical_prices"
	SchemaManualPriceFormPayload       Schema = "manual_price_form_payload"
	SchemaHistoricalPriceFormPayload   Schema = "historical_price_form_payload"
	SchemaHistoricalPriceDeletePayload Schema = "historical_price_delete_payload"
	SchemaPriceInformation             Schema = "price_information"
	SchemaNftPrices                    Schema = "nft_prices"
)

const schemaURL = "https://defisync.local/schemas/prices.json"

const schemaDocument = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$defs": {
    "numeric": {
      "oneOf": [
        {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?([eE][-+]?[0-9]+)?$"},
        {"type": "number"}
      ]
    },
    "asset_pair": {
      "type": "object",
      "required": ["from_asset", "to_asset"],
      "properties": {
        "from_asset": {"type": "string"},
        "to_asset": {"type": "string"}
      }
    },
    "asset_price_input": {
      "type": "array",
      "prefixItems": [
        {"$ref": "#/$defs/numeric"},
        {"type": "integer"},
        {"type": "boolean"}
      ],
      "minItems": 3,
      "items": false
    },
    "asset_price_response": {
      "type": "object",
      "required": ["assets", "target_asset", "oracles"],
      "properties": {
        "assets": {
          "type": "object",
          "additionalProperties": {"$ref": "#/$defs/asset_price_input"}
        },
        "target_asset": {"type": "string"},
        "oracles": {
          "type": "object",
          "additionalProperties": {"type": "integer"}
        }
      }
    },
    "historic_prices": {
      "type": "object",
      "required": ["assets", "target_asset"],
      "properties": {
        "assets": {
          "type": "object",
          "additionalProperties": {
            "type": "object",
            "additionalProperties": {"$ref": "#/$defs/numeric"}
          }
        },
        "target_asset": {"type": "string"}
      }
    },
    "manual_price": {
      "$ref": "#/$defs/asset_pair",
      "required": ["price"],
      "properties": {
        "price": {"$ref": "#/$defs/numeric"}
      }
    },
    "manual_prices": {
      "type": "array",
      "items": {"$ref": "#/$defs/manual_price"}
    },
    "historical_price": {
      "$ref": "#/$defs/manual_price",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "integer"}
      }
    },
    "historical_prices": {
      "type": "array",
      "items": {"$ref": "#/$defs/historical_price"}
    },
    "manual_price_form_payload": {
      "$ref": "#/$defs/asset_pair",
      "required": ["price"],
      "properties": {
        "price": {"type": "string"}
      }
    },
    "historical_price_form_payload": {
      "$ref": "#/$defs/manual_price_form_payload",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "integer"}
      }
    },
    "historical_price_delete_payload": {
      "$ref": "#/$defs/asset_pair",
      "required": ["timestamp"],
      "properties": {
        "timestamp": {"type": "integer"}
      }
    },
    "price_information": {
      "type": "object",
      "required": ["usd_price", "manually_input", "price_asset", "price_in_asset"],
      "properties": {
        "usd_price": {"$ref": "#/$defs/numeric"},
        "manually_input": {"type": "boolean"},
        "price_asset": {"type": "string", "minLength": 1},
        "price_in_asset": {"$ref": "#/$defs/numeric"}
      }
    },
    "nft_price": {
      "$ref": "#/$defs/price_information",
      "required": ["asset"],
      "properties": {
        "asset": {"type": "string", "minLength": 1},
        "name": {"type": ["string", "null"]}
      }
    },
    "nft_prices": {
      "type": "array",
      "items": {"$ref": "#/$defs/nft_price"}
    }
  }
}`

var allSchemas = []Schema{
	SchemaAssetPriceResponse,
	SchemaHistoricPrices,
	SchemaManualPrices,
	SchemaHistoricalPrices,
	SchemaManualPriceFormPayload,
	SchemaHistoricalPriceFormPayload,
	SchemaHistoricalPriceDeletePayload,
	SchemaPriceInformation,
	SchemaNftPrices,
}

var compiled = sync.OnceValues(compileSchemas)

func compileSchemas() (map[Schema]*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaDocument))
	if err != nil {
		return nil, fmt.Errorf("parsing price schemas: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(schemaURL, doc); err != nil {
		return nil, fmt.Errorf("adding price schemas: %w", err)
	}

	out := make(map[Schema]*jsonschema.Schema, len(allSchemas))
	for _, name := range allSchemas {
		sch, err := c.Compile(schemaURL + "#/$defs/" + string(name))
		if err != nil {
			return nil, fmt.Errorf("compiling schema %s: %w", name, err)
		}
		out[name] = sch
	}
	return out, nil
}

// Validate checks raw JSON against a price schema
func Validate(schema Schema, raw []byte) error {
	schemas, err := compiled()
	if err != nil {
		return err
	}

	sch, ok := schemas[schema]
	if !ok {
		return fmt.Errorf("unknown price schema %q", schema)
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return backend.NewValidationError("invalid JSON for "+string(schema), err)
	}

	if err := sch.Validate(inst); err != nil {
		return backend.NewValidationError("does not match "+string(schema), err)
	}
	return nil
}

// Decode validates raw JSON against a price schema and decodes it into T
func Decode[T any](schema Schema, raw []byte) (T, error) {
	var out T
	if err := Validate(schema, raw); err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, backend.NewValidationError("decoding "+string(schema), err)
	}
	return out, nil
}
