//go:build mage

package main

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
	"github.com/pkg/errors"
)

const buildPackage = "github.com/G-Research/maestro/internal/common/build"

// Check dependent tools are present and the correct version.
func CheckDeps() error {
	checks := []struct {
		name  string
		check func() error
	}{
		{"go", goCheck},
		{"golangci-lint", golangciLintCheck},
	}
	failures := false
	for _, check := range checks {
		fmt.Printf("Checking %s... ", check.name)
		if err := check.check(); err != nil {
			fmt.Printf("FAILED\nReason: %v\n", err)
			failures = true
		} else {
			fmt.Println("PASSED")
		}
	}
	if failures {
		return errors.New("check(s) failed.")
	}
	return nil
}

// Removes build output and test reports.
func Clean() {
	fmt.Println("Cleaning...")
	for _, path := range []string{"bin/maestro", "dist", "test_reports"} {
		os.RemoveAll(path)
	}
}

// Builds the maestro binary into bin/ with version information stamped in.
func Build() error {
	mg.Deps(goCheck, makeLocalBin)
	timeTaken := time.Now()
	ldflags, err := versionLdflags()
	if err != nil {
		return err
	}
	err = goRun("build", "-ldflags", ldflags, "-o", LocalBin+"/"+binaryWithExt("maestro"), "./cmd/maestro")
	if err != nil {
		return err
	}
	fmt.Println("Time to build maestro:", time.Since(timeTaken))
	return nil
}

func versionLdflags() (string, error) {
	commit, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil {
		commit = "UNKNOWN"
	}
	version := os.Getenv("MAESTRO_RELEASE_VERSION")
	if version == "" {
		version = "dev"
	}
	flags := []string{
		fmt.Sprintf("-X %s.ReleaseVersion=%s", buildPackage, version),
		fmt.Sprintf("-X %s.GitCommit=%s", buildPackage, strings.TrimSpace(commit)),
		fmt.Sprintf("-X %s.BuildTime=%s", buildPackage, time.Now().UTC().Format(time.RFC3339)),
	}
	return strings.Join(flags, " "), nil
}

func goRun(args ...string) error {
	return sh.RunV(binaryWithExt("go"), args...)
}

func goCheck() error {
	out, err := sh.Output(binaryWithExt("go"), "version")
	if err != nil {
		return errors.Errorf("error running version cmd: %v", err)
	}
	fields := strings.Fields(out)
	if len(fields) < 4 {
		return errors.Errorf("unexpected version cmd output: %s", out)
	}
	if fields[3] != runtime.GOOS+"/"+runtime.GOARCH {
		fmt.Printf("go toolchain targets %s, mage was built for %s/%s\n", fields[3], runtime.GOOS, runtime.GOARCH)
	}
	return checkVersion(strings.TrimPrefix(fields[2], "go"), GO_VERSION_CONSTRAINT)
}
