package client

import (
	"bytes"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"io/ioutil"
	"net/http"

	"github.com/google/go-querystring/query"
	uuid "github.com/satori/go.uuid"
)

// Client talks to the venue REST API. Every request carries a signed JWT with
// a fresh nonce and, when parameters are present, a SHA-512 hash of the
// encoded query string.
type Client struct {
	*http.Client
	URL       string
	AccessKey string
	SecretKey string
}

// Call sends a request to the venue. The response is decoded into either
// map[string]interface{} or []map[string]interface{}; callers convert after
// receiving it.
func (c *Client) Call(method, path string, v interface{}) (interface{}, error) {
	var body []byte

	claims := claims{
		AccessKey: c.AccessKey,
		Nonce:     uuid.NewV4(),
	}

	url := c.URL + path

	if v != nil {
		values, err := query.Values(v)
		if err != nil {
			return nil, err
		}

		if len(values) > 0 {
			encodedQuery := values.Encode()

			hash := sha512.Sum512([]byte(encodedQuery))

			claims.QueryHash = hex.EncodeToString(hash[:])
			claims.QueryHashAlg = "SHA512"

			url = url + "?" + encodedQuery

			body, err = json.Marshal(values)
			if err != nil {
				return nil, err
			}
		}
	}

	token, err := claims.bearer(c.SecretKey)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Add("Authorization", token)

	return getResponse(c.Client, req)
}

// getResponse runs req and normalizes the JSON body to
// map[string]interface{} or []map[string]interface{}.
func getResponse(client *http.Client, req *http.Request) (interface{}, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var r interface{}

	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}

	switch t := r.(type) {
	case []interface{}:
		var a []map[string]interface{}

		for _, item := range t {
			a = append(a, item.(map[string]interface{}))
		}
		r = a
	case map[string]interface{}:
		r = t
	}

	return r, nil
}
