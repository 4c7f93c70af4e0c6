package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Instruction names recognised by the exchange's signature verifier. The
// instruction identifies the operation shape independent of the literal
// request path.
const (
	InstructionBalanceQuery        = "balanceQuery"
	InstructionDepositAddressQuery = "depositAddressQuery"
	InstructionDepositQueryAll     = "depositQueryAll"
	InstructionFillHistoryQueryAll = "fillHistoryQueryAll"
	InstructionOrderCancel         = "orderCancel"
	InstructionOrderCancelAll      = "orderCancelAll"
	InstructionOrderExecute        = "orderExecute"
	InstructionOrderHistoryQuery   = "orderHistoryQueryAll"
	InstructionOrderQuery          = "orderQuery"
	InstructionOrderQueryAll       = "orderQueryAll"
	InstructionPositionQuery       = "positionQuery"
	InstructionSubscribe           = "subscribe"
	InstructionWithdraw            = "withdraw"
	InstructionWithdrawalQueryAll  = "withdrawalQueryAll"
)

// ErrUnsupportedEndpoint is returned when no instruction mapping exists for
// a (verb, path) pair. Sending a request with a missing or wrong instruction
// is an authentication failure at the exchange, so this must reach the
// caller rather than being defaulted away.
var ErrUnsupportedEndpoint = errors.New("endpoint not supported for signing")

// pathParam matches path segments that are request-specific identifiers:
// numeric ids, UUIDs, and long opaque tokens such as client order ids.
var pathParam = regexp.MustCompile(`^(?:\d+|[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}|[A-Za-z0-9=_-]{16,})$`)

const paramPlaceholder = "{id}"

// instructionTable maps "<VERB> <normalized path>" to the instruction name
// embedded in the signature payload. One entry per endpoint shape.
var instructionTable = map[string]string{
	"GET /api/v1/capital":                  InstructionBalanceQuery,
	"GET /api/v1/order":                    InstructionOrderQuery,
	"GET /api/v1/order/{id}":               InstructionOrderQuery,
	"POST /api/v1/order":                   InstructionOrderExecute,
	"DELETE /api/v1/order":                 InstructionOrderCancel,
	"GET /api/v1/orders":                   InstructionOrderQueryAll,
	"POST /api/v1/orders":                  InstructionOrderExecute,
	"DELETE /api/v1/orders":                InstructionOrderCancelAll,
	"GET /api/v1/position":                 InstructionPositionQuery,
	"GET /wapi/v1/capital/deposit/address": InstructionDepositAddressQuery,
	"GET /wapi/v1/capital/deposits":        InstructionDepositQueryAll,
	"GET /wapi/v1/capital/withdrawals":     InstructionWithdrawalQueryAll,
	"POST /wapi/v1/capital/withdrawals":    InstructionWithdraw,
	"GET /wapi/v1/history/fills":           InstructionFillHistoryQueryAll,
	"GET /wapi/v1/history/orders":          InstructionOrderHistoryQuery,
}

// ResolveInstruction maps an HTTP verb and request path to the instruction
// name used in the signature payload. Path segments carrying request
// identifiers are normalized to a placeholder first, so every invocation of
// the same endpoint shape resolves to the same instruction.
func ResolveInstruction(verb, path string) (string, error) {
	key := strings.ToUpper(verb) + " " + normalizePath(path)
	instruction, ok := instructionTable[key]
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrUnsupportedEndpoint, verb, path)
	}
	return instruction, nil
}

func normalizePath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if segment == "" {
			continue
		}
		if pathParam.MatchString(segment) {
			segments[i] = paramPlaceholder
		}
	}
	return strings.Join(segments, "/")
}
