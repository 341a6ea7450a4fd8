// Package http includes handlers and utilties.
package http

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
)

// ReadAllAndReplaceBody reads all of r.Body and replaces it with a new byte buffer.
func ReadAllAndReplaceBody(r *http.Request) ([]byte, error) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return b, err
	}
	defer r.Body.Close()
	r.Body = io.NopCloser(bytes.NewBuffer(b))
	return b, nil
}

// DumpHandler outputs the request line, acting user and body of each
// request to output before calling next.
func DumpHandler(next http.Handler, actorHeader string, output io.Writer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, _ := ReadAllAndReplaceBody(r)
		fmt.Fprintf(output, "%s %s", r.Method, r.URL.RequestURI())
		if actor := r.Header.Get(actorHeader); actor != "" {
			fmt.Fprintf(output, " actor=%s", actor)
		}
		output.Write([]byte{'\n'})
		if len(body) > 0 {
			output.Write(append(body, '\n'))
		}
		next.ServeHTTP(w, r)
	}
}
