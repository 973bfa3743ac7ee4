package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"golang.org/x/crypto/sha3"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainInvocation = "allotment/invocation/v1"
	DomainCompletion = "allotment/completion/v1"
	DomainSchedule   = "allotment/schedule/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// InvocationID computes the content-addressed id of an invocation.
// RequestID is excluded: the same operation replayed under a new request
// token keeps its id.
func InvocationID(action Action, caller Account, args Object, at, seq int64) (string, error) {
	if args == nil {
		args = Object{}
	}
	obj := Object{
		"action": string(action),
		"caller": string(caller),
		"args":   map[string]any(args),
		"at":     at,
		"seq":    seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("InvocationID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainInvocation, canonical), nil
}

// CompletionID computes the content-addressed id of a completion.
// Events are part of the identity so a replay that emits a different
// event trace yields a different id.
func CompletionID(invocationID, outputCase, message string, result Object, events []Event, seq int64) (string, error) {
	if result == nil {
		result = Object{}
	}
	evs := make([]any, len(events))
	for i, e := range events {
		evs[i] = map[string]any(e.Object())
	}
	obj := Object{
		"invocation_id": invocationID,
		"output_case":   outputCase,
		"message":       message,
		"result":        map[string]any(result),
		"events":        evs,
		"seq":           seq,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CompletionID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCompletion, canonical), nil
}

// CustodyAddress derives the id of the nonce-th schedule created by manager.
// The id is "0x" followed by the last 20 bytes of
// Keccak256(domain + 0x00 + manager + 0x00 + nonce), so it reads like an
// account address and doubles as the schedule's custody account.
func CustodyAddress(manager Account, nonce uint64) ScheduleID {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(DomainSchedule))
	h.Write([]byte{0x00})
	h.Write([]byte(manager))
	h.Write([]byte{0x00})
	h.Write([]byte(strconv.FormatUint(nonce, 10)))
	sum := h.Sum(nil)
	return ScheduleID("0x" + hex.EncodeToString(sum[len(sum)-20:]))
}

// MustInvocationID is like InvocationID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustInvocationID(action Action, caller Account, args Object, at, seq int64) string {
	id, err := InvocationID(action, caller, args, at, seq)
	if err != nil {
		panic(err)
	}
	return id
}

// MustCompletionID is like CompletionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustCompletionID(invocationID, outputCase, message string, result Object, events []Event, seq int64) string {
	id, err := CompletionID(invocationID, outputCase, message, result, events, seq)
	if err != nil {
		panic(err)
	}
	return id
}
