package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestStringifyKeyFormatsObjectIDAsHex(t *testing.T) {
	oid := primitive.NewObjectID()
	assert.Equal(t, oid.Hex(), stringifyKey(oid))
}

func TestStringifyKeyFormatsOtherTypesWithDefaultVerb(t *testing.T) {
	assert.Equal(t, "42", stringifyKey(42))
	assert.Equal(t, "abc", stringifyKey("abc"))
}

func TestBoundValueParsesValidObjectIDHex(t *testing.T) {
	oid := primitive.NewObjectID()
	v := boundValue(oid.Hex())
	parsed, ok := v.(primitive.ObjectID)
	assert.True(t, ok)
	assert.Equal(t, oid, parsed)
}

func TestBoundValueFallsBackToStringForNonObjectID(t *testing.T) {
	v := boundValue("not-an-object-id")
	assert.Equal(t, "not-an-object-id", v)
}

func TestMongoReaderSatisfiesReaderInterface(t *testing.T) {
	var _ Reader = (*MongoReader)(nil)
}
