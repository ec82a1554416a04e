//go:build mage

// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Build targets for hanfu.
//
//	mage build          compile hanfu to bin/
//	mage install        copy bin/hanfu to GOPATH/bin
//	mage test:all       run every test with the race detector
//	mage test:unit      run tests, skipping the slower backend suites
//	mage test:backends  run the sqlite, badger, and store suites
//	mage lint           run golangci-lint
//	mage clean          remove build artifacts
package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binGo      = "go"
	binaryName = "hanfu"
	binaryDir  = "bin"
	cmdDir     = "./cmd/hanfu"
	modulePath = "github.com/mesh-intelligence/hanfu"
)

// ldflags stamps the binary with the current git tag or commit.
func ldflags() string {
	version, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || strings.TrimSpace(version) == "" {
		version = "dev"
	}
	return "-X " + modulePath + "/internal/cli.Version=" + strings.TrimSpace(version)
}

// Build compiles the hanfu binary to bin/.
func Build() error {
	if err := os.MkdirAll(binaryDir, 0o755); err != nil {
		return err
	}
	return sh.RunV(binGo, "build", "-v", "-ldflags", ldflags(), "-o", filepath.Join(binaryDir, binaryName), cmdDir)
}

// Clean removes build artifacts.
func Clean() error {
	if err := os.RemoveAll(binaryDir); err != nil {
		return err
	}
	return sh.RunV(binGo, "clean")
}

// Install builds and copies the binary to GOPATH/bin.
func Install() error {
	mg.Deps(Build)
	gopath, err := sh.Output(binGo, "env", "GOPATH")
	if err != nil {
		return err
	}
	src := filepath.Join(binaryDir, binaryName)
	dst := filepath.Join(gopath, "bin", binaryName)
	return sh.Copy(dst, src)
}
