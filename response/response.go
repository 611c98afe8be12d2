package response

import (
	"encoding/json"
	"net/http"
)

// V1Response is the JSON envelope returned by every endpoint
type V1Response struct {
	Result   interface{} `json:"result"`
	Messages []string    `json:"messages"`
}

// WriteResponse will reply to the client with HTTP 200 and the given result in the envelope
func WriteResponse(w http.ResponseWriter, r *http.Request, result interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(V1Response{
		Result:   result,
		Messages: []string{},
	})
}

// WriteError will reply to the client with the Error's status code and messages
func WriteError(w http.ResponseWriter, r *http.Request, e *Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	json.NewEncoder(w).Encode(V1Response{
		Result:   e.Result,
		Messages: append([]string{e.Message}, e.Messages...),
	})
}
