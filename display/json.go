// Package display formats command output for humans and for scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/teranos/pact/errors"
)

// MarshalJSON marshals v with two-space indentation.
func MarshalJSON(v interface{}) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// OutputJSON writes v to w followed by a newline.
func OutputJSON(w io.Writer, v interface{}) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
