package specs

import (
	"testing"

	"github.com/SandrineP/mamba/internal/errs"
)

func TestParseMatchSpec(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		channel string
		subdir  string
		version string
		build   string
		str     string
	}{
		{"numpy", "numpy", "", "", "*", "", "numpy"},
		{"numpy 1.26.*", "numpy", "", "", "1.26.*", "", "numpy 1.26.*"},
		{"numpy >=1.20,<2", "numpy", "", "", ">=1.20,<2", "", "numpy >=1.20,<2"},
		{"numpy >= 1.20 , < 2", "numpy", "", "", ">=1.20,<2", "", "numpy >=1.20,<2"},
		{"numpy==1.26.0", "numpy", "", "", "==1.26.0", "", "numpy ==1.26.0"},
		{"numpy=1.26", "numpy", "", "", "=1.26", "", "numpy =1.26"},
		{"numpy=1.26.0=py311_0", "numpy", "", "", "==1.26.0", "py311_0", "numpy ==1.26.0 py311_0"},
		{"numpy 1.26.0 py311*", "numpy", "", "", "1.26.0", "py311*", "numpy 1.26.0 py311*"},
		{"conda-forge::numpy", "numpy", "conda-forge", "", "*", "", "conda-forge::numpy"},
		{"conda-forge/linux-64::numpy>=1", "numpy", "conda-forge", "linux-64", ">=1", "", "conda-forge/linux-64::numpy >=1"},
		{"numpy[version='>=1.2,<2',build='py*']", "numpy", "", "", ">=1.2,<2", "py*", "numpy >=1.2,<2 py*"},
		{"Python 3.11.*", "python", "", "", "3.11.*", "", "python 3.11.*"},
		{"numpy * py311_0", "numpy", "", "", "*", "py311_0", "numpy * py311_0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ms, err := ParseMatchSpec(tt.in)
			if err != nil {
				t.Fatalf("ParseMatchSpec(%q) failed: %v", tt.in, err)
			}
			if ms.Name != tt.name {
				t.Errorf("Name = %q, want %q", ms.Name, tt.name)
			}
			if ms.Channel != tt.channel {
				t.Errorf("Channel = %q, want %q", ms.Channel, tt.channel)
			}
			if ms.Subdir != tt.subdir {
				t.Errorf("Subdir = %q, want %q", ms.Subdir, tt.subdir)
			}
			if ms.Version.String() != tt.version {
				t.Errorf("Version = %q, want %q", ms.Version.String(), tt.version)
			}
			if ms.Build != tt.build {
				t.Errorf("Build = %q, want %q", ms.Build, tt.build)
			}
			if ms.String() != tt.str {
				t.Errorf("String() = %q, want %q", ms.String(), tt.str)
			}
		})
	}
}

func TestParseMatchSpec_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"   ",
		"# only a comment",
		"numpy >=1 py 3",
		"numpy >=(1",
		"num$py",
		"numpy[version='1'",
		"numpy 1.*.3",
		"numpy !=*",
	}

	for _, s := range invalid {
		_, err := ParseMatchSpec(s)
		if err == nil {
			t.Errorf("ParseMatchSpec(%q) should fail", s)
			continue
		}
		if !errs.Is(err, errs.CodeParse) {
			t.Errorf("ParseMatchSpec(%q) error = %v, want a %s", s, err, errs.CodeParse)
		}
	}
}

func TestMatchSpecMatches(t *testing.T) {
	rec := PackageRecord{
		Name:        "numpy",
		Version:     "1.26.4",
		Build:       "py311h64a7726_0",
		BuildNumber: 0,
		Channel:     "https://conda.anaconda.org/conda-forge",
		Subdir:      "linux-64",
	}

	tests := []struct {
		spec string
		want bool
	}{
		{"numpy", true},
		{"scipy", false},
		{"numpy 1.26.*", true},
		{"numpy 1.2.*", false},
		{"numpy=1.26", true},
		{"numpy==1.26.4", true},
		{"numpy==1.26", false},
		{"numpy >=1.20,<2", true},
		{"numpy <1.26|>=1.26.4", true},
		{"numpy !=1.26.4", false},
		{"numpy ~=1.26.0", true},
		{"numpy ~=1.27.0", false},
		{"numpy * py311*", true},
		{"numpy * py310*", false},
		{"conda-forge::numpy", true},
		{"https://conda.anaconda.org/conda-forge::numpy", true},
		{"defaults::numpy", false},
		{"conda-forge/linux-64::numpy", true},
		{"conda-forge/osx-arm64::numpy", false},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ms := MustParseMatchSpec(tt.spec)
			if got := ms.Matches(rec); got != tt.want {
				t.Errorf("%q.Matches(%s) = %v, want %v", tt.spec, rec.Dist(), got, tt.want)
			}
		})
	}
}
