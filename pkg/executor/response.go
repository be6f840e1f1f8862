package executor

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrNoStatusCode = errors.New("response has no status code")

// Response is a success envelope returned by the remote service.
type Response struct {
	Code       int
	Msg        string
	Data       json.RawMessage
	StatusCode int
}

type envelope struct {
	Code *int            `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// ParseResponse validates body as a service envelope. A body is an envelope
// when it is a JSON object with a non-negative integer "code".
func ParseResponse(body []byte) (*Response, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("invalid response body: %w", err)
	}
	if env.Code == nil {
		return nil, ErrNoStatusCode
	}
	if *env.Code < 0 {
		return nil, fmt.Errorf("negative status code %d", *env.Code)
	}

	return &Response{Code: *env.Code, Msg: env.Msg, Data: env.Data}, nil
}

// DecodeData unmarshals the envelope's data into v, keeping numbers as json.Number.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 || string(r.Data) == "null" {
		return errors.New("response has no data")
	}
	dec := json.NewDecoder(bytes.NewReader(r.Data))
	dec.UseNumber()
	return dec.Decode(v)
}
