package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"

	"github.com/3s-rg-codes/faasctl/pkg/lifecycle"
)

var errNoTerminal = errors.New("refusing to delete without a terminal to confirm on, pass --yes")

var isTerminal = func(file *os.File) bool {
	if file == nil {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

var runConfirmPrompt = func(prompt string, ok *bool) error {
	return huh.NewConfirm().
		Title(prompt).
		Affirmative("Delete").
		Negative("Cancel").
		Value(ok).
		Run()
}

// promptConfirmer asks on the terminal. Without one there is nobody to ask,
// which is an error rather than a no.
type promptConfirmer struct{}

func (promptConfirmer) Confirm(ctx context.Context, prompt string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !isTerminal(os.Stdin) {
		return false, errNoTerminal
	}
	var ok bool
	if err := runConfirmPrompt(prompt, &ok); err != nil {
		return false, fmt.Errorf("confirmation prompt: %w", err)
	}
	return ok, nil
}

// yesConfirmer backs --yes.
type yesConfirmer struct{}

func (yesConfirmer) Confirm(context.Context, string) (bool, error) { return true, nil }

func newConfirmer(assumeYes bool) lifecycle.Confirmer {
	if assumeYes {
		return yesConfirmer{}
	}
	return promptConfirmer{}
}

// consoleNotifier prints successes. Failures come back as the command's error,
// so they are only logged here.
type consoleNotifier struct {
	w      io.Writer
	logger *slog.Logger
}

func (n consoleNotifier) Success(msg string) {
	_, _ = fmt.Fprintln(n.w, msg)
}

func (n consoleNotifier) Failure(msg string, err error) {
	n.logger.Debug(msg, "error", err)
}
