// Package passphrase resolves the escrow keystore passphrase for stakingd and
// stakectl.
package passphrase

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// FileSuffix is appended to the environment variable name to point at a file
// holding the passphrase, for secrets mounted by an orchestrator.
const FileSuffix = "_FILE"

// ErrMismatch is returned when a confirmed passphrase is typed differently.
var ErrMismatch = errors.New("passphrases do not match")

// Prompter reads a secret after printing msg.
type Prompter func(msg string) (string, error)

// Source resolves a keystore passphrase once and caches the result, including
// a failure. Lookup order: the environment variable, the file named by the
// environment variable with FileSuffix, then an interactive prompt.
type Source struct {
	envVar   string
	keystore string
	confirm  bool
	prompt   Prompter

	once  sync.Once
	value string
	err   error
}

// Option customises a Source.
type Option func(*Source)

// WithKeystore names the keystore file the passphrase unlocks in prompts and
// errors.
func WithKeystore(path string) Option {
	return func(s *Source) { s.keystore = strings.TrimSpace(path) }
}

// WithConfirmation asks twice when prompting. Used when creating a keystore.
func WithConfirmation() Option {
	return func(s *Source) { s.confirm = true }
}

// WithPrompter replaces the terminal prompt.
func WithPrompter(p Prompter) Option {
	return func(s *Source) { s.prompt = p }
}

// NewSource constructs a passphrase source reading envVar.
func NewSource(envVar string, opts ...Option) *Source {
	s := &Source{envVar: strings.TrimSpace(envVar)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the passphrase, resolving it on the first call.
func (s *Source) Get() (string, error) {
	s.once.Do(func() {
		s.value, s.err = s.resolve()
	})
	return s.value, s.err
}

func (s *Source) resolve() (string, error) {
	if s.envVar != "" {
		if value, ok := os.LookupEnv(s.envVar); ok {
			if strings.TrimSpace(value) == "" {
				return "", fmt.Errorf("%s is set but empty", s.envVar)
			}
			return value, nil
		}
		if path, ok := os.LookupEnv(s.envVar + FileSuffix); ok {
			return readFile(s.envVar+FileSuffix, path)
		}
	}

	prompt := s.prompt
	if prompt == nil {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			if s.envVar != "" {
				return "", fmt.Errorf("passphrase for %s required; set %s or %s%s", s.target(), s.envVar, s.envVar, FileSuffix)
			}
			return "", fmt.Errorf("passphrase for %s required and no terminal available", s.target())
		}
		prompt = terminalPrompt
	}

	value, err := prompt(fmt.Sprintf("Passphrase for %s: ", s.target()))
	if err != nil {
		return "", fmt.Errorf("read passphrase: %w", err)
	}
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("passphrase for %s cannot be empty", s.target())
	}
	if s.confirm {
		again, err := prompt("Repeat passphrase: ")
		if err != nil {
			return "", fmt.Errorf("read passphrase: %w", err)
		}
		if again != value {
			return "", ErrMismatch
		}
	}
	return value, nil
}

func (s *Source) target() string {
	if s.keystore != "" {
		return "keystore " + s.keystore
	}
	return "escrow keystore"
}

func readFile(envName, path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("%s is set but empty", envName)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read passphrase file: %w", err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("passphrase file %s is empty", path)
	}
	return value, nil
}

func terminalPrompt(msg string) (string, error) {
	fmt.Fprint(os.Stderr, msg)
	secret, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(secret), nil
}
