// Package prompt provides interactive terminal prompts for CLI commands.
package prompt

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/manifoldco/promptui"
	"golang.org/x/term"
)

var (
	// ErrAborted is returned when the user aborts a prompt (Ctrl+C).
	ErrAborted = errors.New("aborted")

	// ErrNotInteractive is returned when stdin is not a terminal.
	ErrNotInteractive = errors.New("stdin is not a terminal")
)

// interactive is replaced in tests.
var interactive = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

// IsAborted reports whether err means the user aborted.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, promptui.ErrAbort) || errors.Is(err, ErrAborted)
}

func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsAborted(err) {
		return ErrAborted
	}
	return err
}

func run(p promptui.Prompt) (string, error) {
	if !interactive() {
		return "", ErrNotInteractive
	}
	result, err := p.Run()
	return result, wrapError(err)
}

// Input prompts for text, offering defaultValue.
func Input(label, defaultValue string) (string, error) {
	return run(promptui.Prompt{Label: label, Default: defaultValue})
}

// Password prompts for a masked secret.
func Password(label string) (string, error) {
	return run(promptui.Prompt{Label: label, Mask: '*'})
}

// Confirm asks a yes/no question. Enter picks defaultYes.
func Confirm(label string, defaultYes bool) (bool, error) {
	hint := "y/N"
	if defaultYes {
		hint = "Y/n"
	}

	if !interactive() {
		return false, ErrNotInteractive
	}
	result, err := (&promptui.Prompt{Label: fmt.Sprintf("%s [%s]", label, hint), IsConfirm: true}).Run()
	if err != nil {
		if errors.Is(err, promptui.ErrInterrupt) {
			return false, ErrAborted
		}
		// IsConfirm reports "n" and empty input as ErrAbort.
		if errors.Is(err, promptui.ErrAbort) {
			return result == "" && defaultYes, nil
		}
		return false, err
	}
	return answerYes(result), nil
}

// ConfirmWithForce skips the question when force is set.
func ConfirmWithForce(label string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return Confirm(label, false)
}

func answerYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
