// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestActionableError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		expected string
	}{
		{
			name:     "operation only",
			err:      &ActionableError{Operation: "load recipe"},
			expected: "failed to load recipe",
		},
		{
			name:     "operation with resource",
			err:      &ActionableError{Operation: "load recipe", Resource: "./imgprov.cue"},
			expected: "failed to load recipe: ./imgprov.cue",
		},
		{
			name:     "operation with cause",
			err:      &ActionableError{Operation: "parse config", Cause: errors.New("syntax error at line 5")},
			expected: "failed to parse config: syntax error at line 5",
		},
		{
			name: "full context",
			err: &ActionableError{
				Operation: "build image",
				Resource:  "terraref/extractor-bin2tif:1.0",
				Cause:     errors.New("exit status 100"),
			},
			expected: "failed to build image: terraref/extractor-bin2tif:1.0: exit status 100",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestActionableError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ActionableError{Operation: "test", Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the wrapped cause")
	}
	if (&ActionableError{Operation: "test"}).Unwrap() != nil {
		t.Error("Unwrap() should return nil when no cause")
	}
}

func TestActionableError_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *ActionableError
		verbose  bool
		contains []string
		excludes []string
	}{
		{
			name:     "simple error",
			err:      &ActionableError{Operation: "load config"},
			contains: []string{"failed to load config"},
			excludes: []string{"•", "Error chain"},
		},
		{
			name: "suggestions",
			err: &ActionableError{
				Operation:   "load recipe",
				Resource:    "./imgprov.cue",
				Suggestions: []string{"Run 'imgprov recipe default'", "Check file permissions"},
			},
			contains: []string{"failed to load recipe", "./imgprov.cue", "• Run 'imgprov recipe default'", "• Check file permissions"},
		},
		{
			name:     "chain hidden without verbose",
			err:      &ActionableError{Operation: "build image", Cause: fmt.Errorf("step 3: %w", errors.New("apt-get failed"))},
			contains: []string{"failed to build image: step 3: apt-get failed"},
			excludes: []string{"Error chain"},
		},
		{
			name:     "chain shown with verbose",
			err:      &ActionableError{Operation: "build image", Cause: fmt.Errorf("step 3: %w", errors.New("apt-get failed"))},
			verbose:  true,
			contains: []string{"Error chain:", "1. step 3: apt-get failed", "2. apt-get failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Format(tt.verbose)
			for _, s := range tt.contains {
				if !strings.Contains(got, s) {
					t.Errorf("Format() = %q, should contain %q", got, s)
				}
			}
			for _, s := range tt.excludes {
				if strings.Contains(got, s) {
					t.Errorf("Format() = %q, should not contain %q", got, s)
				}
			}
		})
	}
}

func TestWrapHelpers(t *testing.T) {
	if WrapWithOperation(nil, "op") != nil {
		t.Error("WrapWithOperation(nil) should return nil")
	}
	if WrapWithContext(nil, "op", "res") != nil {
		t.Error("WrapWithContext(nil) should return nil")
	}

	cause := errors.New("boom")
	if got := WrapWithOperation(cause, "verify image").Error(); got != "failed to verify image: boom" {
		t.Errorf("WrapWithOperation() = %q", got)
	}
	ae := WrapWithContext(cause, "copy sources", "terraref/")
	if ae.Resource != "terraref/" || !errors.Is(ae, cause) {
		t.Errorf("WrapWithContext() = %+v", ae)
	}
}

func TestErrorContext_Build(t *testing.T) {
	cause := errors.New("connection refused")
	ae := NewErrorContext().
		WithOperation("install packages").
		WithResource("numpy==1.19.5").
		WithSuggestion("Check the network").
		WithSuggestionf("Retry with %d attempts", 5).
		WithSuggestions("a", "b").
		WithIssue(PackageInstallFailedId).
		Wrap(cause).
		Build()

	if ae == nil {
		t.Fatal("Build() returned nil")
	}
	if ae.Operation != "install packages" || ae.Resource != "numpy==1.19.5" || ae.Issue != PackageInstallFailedId {
		t.Errorf("Build() = %+v", ae)
	}
	want := []string{"Check the network", "Retry with 5 attempts", "a", "b"}
	if strings.Join(ae.Suggestions, "|") != strings.Join(want, "|") {
		t.Errorf("Suggestions = %v, want %v", ae.Suggestions, want)
	}
	if !ae.HasSuggestions() {
		t.Error("HasSuggestions() = false")
	}
	if !errors.Is(ae, cause) {
		t.Error("built error should wrap the cause")
	}
}

func TestErrorContext_BuildWithoutOperation(t *testing.T) {
	ctx := NewErrorContext().WithResource("x").Wrap(errors.New("boom"))
	if ctx.Build() != nil {
		t.Error("Build() without operation should return nil")
	}
	if err := ctx.BuildError(); err != nil {
		t.Errorf("BuildError() without operation = %v, want untyped nil", err)
	}
	if err := NewErrorContext().WithOperation("x").BuildError(); err == nil {
		t.Error("BuildError() with operation returned nil")
	}
}

func TestIssueOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Id
	}{
		{name: "nil", err: nil},
		{name: "plain error", err: errors.New("x")},
		{name: "no issue", err: &ActionableError{Operation: "x"}},
		{
			name: "direct",
			err:  &ActionableError{Operation: "x", Issue: VerificationFailedId},
			want: VerificationFailedId,
		},
		{
			name: "wrapped",
			err:  fmt.Errorf("outer: %w", &ActionableError{Operation: "x", Issue: LockDriftId}),
			want: LockDriftId,
		},
		{
			name: "nested without issue on the outer error",
			err: &ActionableError{
				Operation: "provision",
				Cause:     fmt.Errorf("build: %w", &ActionableError{Operation: "install", Issue: PackageInstallFailedId}),
			},
			want: PackageInstallFailedId,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IssueOf(tt.err)
			switch {
			case tt.want == 0 && got != nil:
				t.Errorf("IssueOf() = %d, want nil", got.Id())
			case tt.want != 0 && (got == nil || got.Id() != tt.want):
				t.Errorf("IssueOf() = %v, want %d", got, tt.want)
			}
		})
	}
}
