package model

import (
	"strings"
	"unicode/utf8"

	"PChat/tools/errs"
)

const (
	MinUsernameLength = 2
	MaxUsernameLength = 20
	MaxContentLength  = 500
)

// NormalizeUsername trims the name and checks its length in characters.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if !utf8.ValidString(name) {
		return "", errs.ErrInvalidUsername.WrapMsg("invalid utf8")
	}
	n := utf8.RuneCountInString(name)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return "", errs.ErrInvalidUsername.WrapMsg("length out of range", "len", n)
	}
	return name, nil
}

// NormalizeContent trims message content and checks it is 1-500 characters.
func NormalizeContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if !utf8.ValidString(content) {
		return "", errs.ErrInvalidContent.WrapMsg("invalid utf8")
	}
	n := utf8.RuneCountInString(content)
	if n == 0 || n > MaxContentLength {
		return "", errs.ErrInvalidContent.WrapMsg("length out of range", "len", n)
	}
	return content, nil
}
