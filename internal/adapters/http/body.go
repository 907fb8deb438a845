package httpadapter

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"geoaudit/internal/domain"
)

const (
	maxCallbackBytes = 10 << 20 // crawl observations can be large
	maxBodyBytes     = 1 << 20
)

var errPayloadTooLarge = errors.New("payload too large")

func readBody(r *http.Request, limit int64) ([]byte, error) {
	defer r.Body.Close()
	b, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, errors.New("failed to read body")
	}
	if int64(len(b)) > limit {
		return nil, errPayloadTooLarge
	}
	return b, nil
}

func decodeJSON(r *http.Request, v any) error {
	body, err := readBody(r, maxBodyBytes)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if dec.More() {
		return errors.New("invalid JSON: multiple JSON values")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError answers with the product-facing message of err and its code.
func writeDomainError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{
		"error": domain.PublicMessage(err),
		"code":  domain.Code(err),
	})
}

func statusFor(err error) int {
	switch domain.Code(err) {
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeInvalidInput:
		return http.StatusBadRequest
	case domain.CodeInvalidTransition, domain.CodeStaleOrder, domain.CodeRetryLimit:
		return http.StatusConflict
	case domain.CodePermanentContent:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
