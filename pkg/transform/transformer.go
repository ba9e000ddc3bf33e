package transform

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/blockmigrate/mongox/pkg/config"
)

// Transformer produces an ordered Row from a source document, for the
// table mapping it was built against.
type Transformer interface {
	Transform(doc bson.M) (Row, error)
	// Columns returns the target column names in the order Transform
	// emits values, so a writer can build its column list once.
	Columns() []string
}

// New returns the Transformer for mapping.Mode.
func New(mapping *config.TableMapping) (Transformer, error) {
	switch mapping.Mode {
	case config.ModeJSONB:
		return &jsonbTransformer{mapping: mapping}, nil
	case config.ModeColumns:
		return &columnsTransformer{mapping: mapping}, nil
	default:
		return nil, fmt.Errorf("unknown mapping mode %q", mapping.Mode)
	}
}

// jsonbTransformer implements the "JSONB mode" mapping: two columns,
// an identifier and a canonical JSON document, followed by any
// constant columns.
type jsonbTransformer struct {
	mapping *config.TableMapping
}

func (t *jsonbTransformer) Columns() []string {
	cols := []string{t.mapping.IDColumn, t.mapping.DocColumn}
	return append(cols, t.mapping.Constants.Names...)
}

func (t *jsonbTransformer) Transform(doc bson.M) (Row, error) {
	idVal, ok := doc["_id"]
	if !ok {
		return Row{}, fmt.Errorf("document missing _id field")
	}
	idStr := stringifyID(idVal)

	docJSON, err := canonicalJSON(doc)
	if err != nil {
		return Row{}, fmt.Errorf("encoding document as JSON: %w", err)
	}

	values := make([]Value, 0, len(t.mapping.Constants.Names)+2)
	values = append(values, Present(idStr), Present(docJSON))
	for i := range t.mapping.Constants.Names {
		lit := ""
		if i < len(t.mapping.Constants.Values) {
			lit = t.mapping.Constants.Values[i]
		}
		values = append(values, Present(lit))
	}
	return Row{Values: values}, nil
}

// columnsTransformer implements the "COLUMNS mode" mapping: one value
// per declared target column, applying constants, renames, and type
// coercion, with explicit null-vs-absent-vs-empty detection.
type columnsTransformer struct {
	mapping *config.TableMapping
}

func (t *columnsTransformer) Columns() []string {
	cols := make([]string, len(t.mapping.TargetColumns))
	copy(cols, t.mapping.TargetColumns)
	for _, name := range t.mapping.Constants.Names {
		cols = append(cols, name)
	}
	return cols
}

func (t *columnsTransformer) Transform(doc bson.M) (Row, error) {
	values := make([]Value, 0, len(t.Columns()))
	constantSet := make(map[string]string, len(t.mapping.Constants.Names))
	for i, name := range t.mapping.Constants.Names {
		if i < len(t.mapping.Constants.Values) {
			constantSet[name] = t.mapping.Constants.Values[i]
		}
	}

	for _, col := range t.mapping.TargetColumns {
		if lit, isConst := constantSet[col]; isConst {
			values = append(values, Present(lit))
			continue
		}
		srcField := t.mapping.SourceFieldFor(col)
		v, err := t.extract(doc, srcField)
		if err != nil {
			return Row{}, fmt.Errorf("column %q: %w", col, err)
		}
		values = append(values, v)
	}
	for _, name := range t.mapping.Constants.Names {
		values = append(values, Present(constantSet[name]))
	}
	return Row{Values: values}, nil
}

// extract implements the three-way null/absent/empty distinction,
// then coerces per the type-coercion table.
func (t *columnsTransformer) extract(doc bson.M, field string) (Value, error) {
	raw, present := doc[field]
	if !present {
		return NullValue(), nil // field is absent
	}
	if raw == nil {
		return NullValue(), nil // field is present and typed null
	}
	encoded, srcType, err := encodeBSONValue(raw)
	if err != nil {
		return Value{}, err
	}
	if tgtType, ok := t.mapping.TypeCoercion[srcType]; ok {
		encoded, err = coerce(encoded, tgtType)
		if err != nil {
			return Value{}, fmt.Errorf("coercing %s to %s: %w", srcType, tgtType, err)
		}
	}
	return Present(encoded), nil
}

func stringifyID(v interface{}) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", v)
}

func canonicalJSON(doc bson.M) (string, error) {
	// bson.M keys are sorted by encoding/json's map handling, giving a
	// stable, canonical serialization across repeated runs.
	extJSON, err := bson.MarshalExtJSON(doc, true, false)
	if err != nil {
		return "", err
	}
	var normalized interface{}
	if err := json.Unmarshal(extJSON, &normalized); err != nil {
		return "", err
	}
	out, err := json.Marshal(normalized)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// encodeBSONValue renders a BSON field to its string form plus a
// type tag used to look up the coercion table.
func encodeBSONValue(v interface{}) (text, srcType string, err error) {
	switch x := v.(type) {
	case string:
		return x, "string", nil
	case bool:
		return strconv.FormatBool(x), "bool", nil
	case int32:
		return strconv.FormatInt(int64(x), 10), "int32", nil
	case int64:
		return strconv.FormatInt(x, 10), "int64", nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), "double", nil
	case primitive.DateTime:
		return x.Time().UTC().Format(time.RFC3339Nano), "date", nil
	case primitive.ObjectID:
		return x.Hex(), "objectId", nil
	case primitive.Decimal128:
		return x.String(), "decimal", nil
	case bson.M, bson.A:
		b, err := bson.MarshalExtJSON(x, true, false)
		if err != nil {
			return "", "", err
		}
		return string(b), "document", nil
	default:
		return fmt.Sprintf("%v", x), "unknown", nil
	}
}

// coerce applies a per-type conversion named in table.typeMapping.
// Recognized target types validate and normalize text; an
// unrecognized target type passes text through unchanged rather than
// failing the row, since table.typeMapping is an optional hint, not
// an exhaustive schema.
func coerce(text, targetType string) (string, error) {
	switch targetType {
	case "text", "varchar", "jsonb", "json":
		return text, nil
	case "bigint", "integer", "smallint":
		n, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	case "numeric", "double precision", "real":
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case "boolean":
		b, err := strconv.ParseBool(text)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	case "timestamp", "timestamptz":
		t, err := time.Parse(time.RFC3339Nano, text)
		if err != nil {
			return "", err
		}
		return t.UTC().Format(time.RFC3339Nano), nil
	default:
		return text, nil
	}
}
