//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

// Test groups test targets (all, unit, backends).
type Test mg.Namespace

// backendPackages hold the suites that open real databases.
var backendPackages = []string{
	"/internal/sqlite",
	"/internal/badger",
	"/internal/store",
	"/internal/cli",
}

// All runs every test with the race detector.
func (Test) All() error {
	return sh.RunV(binGo, "test", "-race", "./...")
}

// Unit runs the tests that need no database.
func (Test) Unit() error {
	pkgs, err := packages(func(pkg string) bool { return !isBackend(pkg) })
	if err != nil {
		return err
	}
	return runTests(pkgs)
}

// Backends runs the sqlite, badger, store, and CLI suites.
func (Test) Backends() error {
	pkgs, err := packages(isBackend)
	if err != nil {
		return err
	}
	return runTests(pkgs)
}

func isBackend(pkg string) bool {
	for _, suffix := range backendPackages {
		if strings.HasSuffix(pkg, suffix) {
			return true
		}
	}
	return false
}

func packages(keep func(string) bool) ([]string, error) {
	out, err := sh.Output(binGo, "list", "./...")
	if err != nil {
		return nil, err
	}
	var pkgs []string
	for pkg := range strings.SplitSeq(out, "\n") {
		if pkg != "" && keep(pkg) {
			pkgs = append(pkgs, pkg)
		}
	}
	return pkgs, nil
}

func runTests(pkgs []string) error {
	if len(pkgs) == 0 {
		fmt.Println("No test packages found.")
		return nil
	}
	args := append([]string{"test", "-race"}, pkgs...)
	return sh.RunV(binGo, args...)
}
