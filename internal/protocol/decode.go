package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// DecodePayload unmarshals an Envelope's raw payload into dst and validates
// it against dst's `validate` struct tags. Both steps' errors are returned as
// a single wrapped error — the coordinator turns any non-nil return into a
// nack with the error's message as Reason.
func DecodePayload(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}
