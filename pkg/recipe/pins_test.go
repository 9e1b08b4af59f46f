// SPDX-License-Identifier: MPL-2.0

package recipe

import (
	"errors"
	"strings"
	"testing"
)

func TestPinReport(t *testing.T) {
	t.Parallel()

	r := &Recipe{
		OSPackages: []Package{
			{Name: "gdal-bin", Version: "2.2.3+dfsg-2"},
			{Name: "python3-pip"},
			{Name: "libgdal-dev", Version: "2.2.*"},
		},
		LangPackages: []Package{
			{Name: "numpy", Version: "1.19.5"},
			{Name: "pyclowder", Version: "==2.3.4"},
			{Name: "scipy", Version: ">=1.5"},
			{Name: "utm"},
			{Name: "influxdb", Version: "5.3.*"},
			{Name: "laspy", Version: "1.7.0.post1"},
		},
	}

	findings := r.PinReport()

	got := make([]string, 0, len(findings))
	for _, f := range findings {
		got = append(got, string(f.Kind)+":"+f.Package.Name)
	}
	want := []string{"os:python3-pip", "os:libgdal-dev", "lang:scipy", "lang:utm", "lang:influxdb"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("PinReport() = %v, want %v", got, want)
	}
}

func TestStrictPins(t *testing.T) {
	t.Parallel()

	r := &Recipe{LangPackages: []Package{{Name: "numpy", Version: "~1.19"}}}
	err := r.StrictPins()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnpinnedPackage) {
		t.Errorf("error should wrap ErrUnpinnedPackage: %v", err)
	}
	if !strings.Contains(err.Error(), "numpy") {
		t.Errorf("error should name the package: %v", err)
	}

	if err := Default().StrictPins(); err != nil {
		t.Errorf("reference recipe should pass strict pins: %v", err)
	}
}

func TestLangVersion(t *testing.T) {
	t.Parallel()

	if got := LangVersion(Package{Version: " ==1.2.3 "}); got != "1.2.3" {
		t.Errorf("LangVersion() = %q, want 1.2.3", got)
	}
}
