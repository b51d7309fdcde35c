package dsl

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrMalformedRecord is returned when a leaf value cannot be split back
// into a username/email pair.
var ErrMalformedRecord = errors.New("dsl: malformed record value")

// PackValue encodes a username/email pair into the opaque leaf value
// the storage engine persists: the engine itself never interprets this
// byte payload, it is pure DSL convention.
func PackValue(username, email string) []byte {
	buf := make([]byte, 0, len(username)+1+len(email))
	buf = append(buf, username...)
	buf = append(buf, 0)
	buf = append(buf, email...)
	return buf
}

// UnpackValue splits a leaf value produced by PackValue back into its
// username/email pair.
func UnpackValue(value []byte) (username, email string, err error) {
	idx := bytes.IndexByte(value, 0)
	if idx < 0 {
		return "", "", fmt.Errorf("%w: no null separator", ErrMalformedRecord)
	}
	return string(value[:idx]), string(value[idx+1:]), nil
}
