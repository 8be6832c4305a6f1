package store

import (
	"bytes"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
)

type accountDoc struct {
	ID        string
	RiskUsed  float64
	RiskLimit float64
}

var data = accountDoc{ID: "acc-1", RiskUsed: 40, RiskLimit: 100}

func TestSerialize(t *testing.T) {
	buf := new(bytes.Buffer)

	enc := gob.NewEncoder(buf)
	assert.NoError(t, enc.Encode(data))

	r, err := serialize(data)
	assert.NoError(t, err)

	assert.Equal(t, buf.Bytes(), r)

	_, err = serialize(nil)
	assert.Error(t, err)
}

func TestDeserialize(t *testing.T) {
	var decoded, r accountDoc

	encoded, err := serialize(data)
	assert.NoError(t, err)

	dec := gob.NewDecoder(bytes.NewReader(encoded))
	assert.NoError(t, dec.Decode(&decoded))

	assert.NoError(t, deserialize(encoded, &r))
	assert.Equal(t, decoded, r)

	assert.Error(t, deserialize(encoded, r))
}
