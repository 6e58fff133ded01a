package solprogram

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"

	"github.com/m0-foundation/solana-m/earn"
)

var (
	customCodePatterns = []*regexp.Regexp{
		regexp.MustCompile(`"Custom":\s*(\d+)`),     // "Custom": 6002
		regexp.MustCompile(`"Custom":\s*"(\d+)"`),   // "Custom": "6002"
		regexp.MustCompile(`Custom:\s*(\d+)`),       // Custom: 6002
		regexp.MustCompile(`error code:\s*(\d+)`),   // error code: 6002
		regexp.MustCompile(`Error Number:\s*(\d+)`), // Error Number: 6002 (from Anchor logs)
	}
	hexCodePattern    = regexp.MustCompile(`custom program error: 0x([0-9a-fA-F]+)`)
	simulationFailed  = regexp.MustCompile(`simulation failed`)
	insufficientFunds = regexp.MustCompile(`insufficient funds`)
	programLogPattern = []*regexp.Regexp{
		regexp.MustCompile(`Program log: ([^"\\n]+?)(?:"|\\n|$)`), // With quotes
		regexp.MustCompile(`Program log: ([^\n]+)`),                // Without quotes
	}
)

// ExtractErrorCode tries multiple methods to extract custom program error code
func ExtractErrorCode(err error) *int {
	if err == nil {
		return nil
	}

	// Method 1: structured preflight failure
	// data.err = {"InstructionError": [0, {"Custom": 6002}]}
	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if code, ok := customCode(rpcErr.Data); ok {
			return &code
		}
	}

	errStr := err.Error()

	// Method 2: JSON object embedded in the message
	// Format: "err": {"InstructionError": [0, {"Custom": 6002}]}
	if jsonStart := strings.Index(errStr, `"err":`); jsonStart != -1 {
		jsonStr := "{" + errStr[jsonStart:]
		depth := 0
		for i, ch := range jsonStr {
			switch ch {
			case '{':
				depth++
			case '}':
				depth--
			}
			if ch == '}' && depth == 1 {
				var wrapper map[string]any
				if json.Unmarshal([]byte(jsonStr[:i+1]+"}"), &wrapper) == nil {
					if code, ok := customCode(wrapper); ok {
						return &code
					}
				}
				break
			}
		}
	}

	// Method 3: Regex patterns for "Custom": 6002
	for _, pattern := range customCodePatterns {
		if matches := pattern.FindStringSubmatch(errStr); len(matches) > 1 {
			if code, err := strconv.Atoi(matches[1]); err == nil {
				return &code
			}
		}
	}

	// Method 4: Hex format - custom program error: 0x1772
	if matches := hexCodePattern.FindStringSubmatch(errStr); len(matches) > 1 {
		if code, err := strconv.ParseInt(matches[1], 16, 64); err == nil {
			intCode := int(code)
			return &intCode
		}
	}

	return nil
}

// customCode finds the first {"Custom": n} entry in a decoded JSON value.
func customCode(v any) (int, bool) {
	switch v := v.(type) {
	case map[string]any:
		if custom, ok := v["Custom"]; ok {
			switch c := custom.(type) {
			case float64:
				return int(c), true
			case json.Number:
				n, err := c.Int64()
				return int(n), err == nil
			case string:
				n, err := strconv.Atoi(c)
				return n, err == nil
			}
		}
		for _, inner := range v {
			if code, ok := customCode(inner); ok {
				return code, true
			}
		}
	case []any:
		for _, inner := range v {
			if code, ok := customCode(inner); ok {
				return code, true
			}
		}
	}
	return 0, false
}

// DecodeError maps a custom program error carried by err to its ledger error,
// so callers can match it with errors.Is. Other errors are returned unchanged.
func DecodeError(err error) error {
	code := ExtractErrorCode(err)
	if code == nil {
		return err
	}
	domainErr, ok := earn.ErrorByCode(*code)
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %w", domainErr, err)
}

// ParseSolanaError extracts and formats error
func ParseSolanaError(err error) string {
	if err == nil {
		return ""
	}

	errStr := err.Error()

	// Check for BlockhashNotFound (transaction expired)
	if strings.Contains(errStr, "BlockhashNotFound") ||
		strings.Contains(errStr, "Blockhash not found") {
		return "Transaction expired. The blockhash is no longer valid. Please create a new transaction and try again."
	}

	// Try to get custom program error code
	if code := ExtractErrorCode(err); code != nil {
		if domainErr, ok := earn.ErrorByCode(*code); ok {
			return domainErr.Error()
		}
		return fmt.Sprintf("Custom program error code: %d", *code)
	}

	// Check for simulation failed
	if simulationFailed.MatchString(errStr) {
		return "Transaction simulation failed. Check program logs for details."
	}

	// Check for insufficient funds
	if insufficientFunds.MatchString(errStr) {
		return "Insufficient SOL balance to pay for transaction"
	}

	// Return truncated error
	if len(errStr) > 300 {
		return errStr[:300] + "..."
	}
	return errStr
}

// ExtractLogMessages extracts program logs from error
func ExtractLogMessages(err error) []string {
	if err == nil {
		return nil
	}

	errStr := err.Error()
	logs := []string{}

	// Handle both escaped and non-escaped strings
	for _, pattern := range programLogPattern {
		matches := pattern.FindAllStringSubmatch(errStr, -1)
		for _, match := range matches {
			if len(match) > 1 {
				log := strings.TrimSpace(match[1])
				if log != "" && !slices.Contains(logs, log) {
					logs = append(logs, log)
				}
			}
		}
	}

	return logs
}
