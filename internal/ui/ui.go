// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the small set of colored terminal helpers the CLI
// commands share: headers, labels, status lines and counters. Color is
// disabled automatically when stdout is not a terminal or NO_COLOR is
// set, and can be forced off via InitColors.
package ui

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	Bold    = color.New(color.Bold)
	Dim     = color.New(color.Faint)
	Cyan    = color.New(color.FgCyan, color.Bold)
	Green   = color.New(color.FgGreen)
	Yellow  = color.New(color.FgYellow)
	Red     = color.New(color.FgRed, color.Bold)
	Magenta = color.New(color.FgMagenta)
)

// InitColors enables or disables colored output for every helper in this
// package, in addition to the automatic isatty/NO_COLOR detection.
func InitColors(noColor bool) {
	enabled := !noColor && isatty.IsTerminal(os.Stdout.Fd()) && os.Getenv("NO_COLOR") == ""
	color.NoColor = !enabled
}

// Header prints a bold cyan section banner.
func Header(title string) {
	Cyan.Println(title)
}

// SubHeader prints a dimmer sub-section banner.
func SubHeader(title string) {
	Bold.Println(title)
}

// Label formats a field label for a "label: value" line.
func Label(text string) string {
	return Dim.Sprint(text)
}

// DimText renders text in the dim/faint style without a trailing newline.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText renders an integer count, highlighted when non-zero.
func CountText(n int) string {
	if n == 0 {
		return Dim.Sprint("0")
	}
	return Bold.Sprint(strconv.Itoa(n))
}

func Info(msg string)                  { fmt.Println(msg) }
func Infof(format string, args ...any) { fmt.Printf(format+"\n", args...) }
func Success(msg string)               { Green.Println(msg) }
func Successf(format string, args ...any) { Green.Printf(format+"\n", args...) }
func Warning(msg string)                  { Yellow.Fprintln(os.Stderr, msg) }
func Warningf(format string, args ...any) { Yellow.Fprintf(os.Stderr, format+"\n", args...) }
func Error(msg string)                    { Red.Fprintln(os.Stderr, msg) }
func Errorf(format string, args ...any)   { Red.Fprintf(os.Stderr, format+"\n", args...) }
