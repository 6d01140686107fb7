package backend

import (
	"errors"
	"fmt"
	"strings"
)

// Node messages that mean the sender cannot cover value plus fee.
var notEnoughBalanceMarkers = []string{
	"exceeds balance",
	"insufficient funds",
	"inability to pay some fees",
}

// AdaptError rewrites node errors that signal a low balance into
// ErrNotEnoughBalance. Other errors pass through unchanged.
func AdaptError(err error) error {
	if err == nil || errors.Is(err, ErrNotEnoughBalance) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, m := range notEnoughBalanceMarkers {
		if strings.Contains(msg, m) {
			return fmt.Errorf("%w: %w", ErrNotEnoughBalance, err)
		}
	}
	return err
}
