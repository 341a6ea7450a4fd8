package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/magnab/lifecycle/workflow"
)

func TestStatusCode(t *testing.T) {
	for _, test := range []struct {
		err  error
		want int
	}{
		{workflow.NewValidationError("bad"), http.StatusBadRequest},
		{fmt.Errorf("retrieving template: %w", workflow.NewNotFoundError("template", "x")), http.StatusNotFound},
		{workflow.NewConflictError("taken"), http.StatusConflict},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	} {
		if have, want := StatusCode(test.err), test.want; have != want {
			t.Errorf("%v: have: %v, want: %v", test.err, have, want)
		}
	}
}

func TestJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONError(rec, workflow.NewNotFoundError("workflow", "abc"), 0)

	if have, want := rec.Code, http.StatusNotFound; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	var body struct {
		Err string `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if have, want := body.Err, "not found: workflow: abc"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	rec = httptest.NewRecorder()
	JSONError(rec, workflow.NewNotFoundError("workflow", "abc"), http.StatusTeapot)
	if have, want := rec.Code, http.StatusTeapot; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
