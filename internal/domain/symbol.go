package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Tickers, dotted exchange tickers and 12-character ISINs all pass through
// the same shape validation before resolution.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9.-]{1,20}$`)

// NormalizeSymbol trims, uppercases and shape-checks an instrument symbol.
func NormalizeSymbol(raw string) (string, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw))
	if !symbolPattern.MatchString(symbol) {
		return "", fmt.Errorf("%w: symbol must be 1-20 characters (A-Z, 0-9, '.', '-')", ErrValidation)
	}
	return symbol, nil
}
