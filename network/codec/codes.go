package codec

import (
	"fmt"

	"github.com/wholesum/bazaar/model/messages"
)

// Message codes prefix every encoded message with one byte naming its family.
const (
	CodeMin uint8 = iota

	// gossip
	CodeNeed

	// request/response
	CodeRequest
	CodeResponse

	CodeMax
)

// MessageCodeFromInterface returns the code and name of the family v belongs to.
func MessageCodeFromInterface(v interface{}) (uint8, string, error) {
	switch v.(type) {
	case messages.Need:
		return CodeNeed, "CodeNeed", nil
	case messages.Request:
		return CodeRequest, "CodeRequest", nil
	case messages.Response:
		return CodeResponse, "CodeResponse", nil
	default:
		return 0, "", fmt.Errorf("invalid encode type (%T)", v)
	}
}

// CodeName returns the name of a message code for logging.
func CodeName(code uint8) string {
	switch code {
	case CodeNeed:
		return "CodeNeed"
	case CodeRequest:
		return "CodeRequest"
	case CodeResponse:
		return "CodeResponse"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}
