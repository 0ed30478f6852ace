package main

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/mowzhja/harpocrates/internal/auth"
)

// passwordEnv lets scripts supply the password without a terminal.
const passwordEnv = "HARPOCRATES_PASSWORD"

// passwordSource reads the password from passwordEnv, or prompts on the
// terminal for every attempt.
func passwordSource(identity string) auth.PasswordFunc {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return auth.StaticPassword([]byte(pw))
	}
	return func(attempt int) ([]byte, error) {
		return readPassword(identity, attempt)
	}
}

func readPassword(identity string, attempt int) ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, errors.New("stdin is not a terminal, set " + passwordEnv)
	}
	if attempt > 1 {
		fmt.Fprintf(os.Stderr, "Password for %s (attempt %d): ", identity, attempt)
	} else {
		fmt.Fprintf(os.Stderr, "Password for %s: ", identity)
	}
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	return pw, err
}
