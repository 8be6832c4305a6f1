package store

import (
	"bytes"
	"encoding/gob"
)

func serialize(data interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)

	if err := gob.NewEncoder(buf).Encode(data); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func deserialize(encoded []byte, received interface{}) error {
	return gob.NewDecoder(bytes.NewReader(encoded)).Decode(received)
}
