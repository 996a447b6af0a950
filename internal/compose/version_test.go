package compose

import (
	"errors"
	"testing"

	"github.com/ShayCichocki/graphdev/pkg/models"
)

const (
	fedOneSDL = `type Query { a: Int }`
	fedTwoSDL = `extend schema @link(url: "https://specs.apollo.dev/federation/v2.3", import: ["@key"])
type Query { b: Int }`
	otherLinkSDL = `schema @link(url: "https://specs.apollo.dev/link/v1.0") { query: Query }
type Query { c: Int }`
)

func TestResolveFederationVersion(t *testing.T) {
	exact := models.FederationVersion{Major: 2, Exact: "2.3.4"}

	tests := []struct {
		name        string
		override    models.FederationVersion
		manifest    models.FederationVersion
		subgraphs   map[string]string
		want        models.FederationVersion
		source      VersionSource
		wantWarning bool
		wantErr     bool
	}{
		{
			name:      "override wins over contradicting manifest",
			override:  exact,
			manifest:  models.LatestFedOne,
			subgraphs: map[string]string{"a": fedOneSDL, "b": fedTwoSDL},
			want:      exact,
			source:    VersionFromOverride,
		},
		{
			name:      "fed one override with fed two subgraphs",
			override:  models.LatestFedOne,
			subgraphs: map[string]string{"b": fedTwoSDL},
			want:      models.LatestFedOne,
			source:    VersionFromOverride,
			wantErr:   true,
		},
		{
			name:      "manifest version",
			manifest:  models.LatestFedOne,
			subgraphs: map[string]string{"a": fedOneSDL},
			want:      models.LatestFedOne,
			source:    VersionFromManifest,
		},
		{
			name:      "manifest fed one contradicted by link",
			manifest:  models.LatestFedOne,
			subgraphs: map[string]string{"b": fedTwoSDL},
			want:      models.LatestFedOne,
			source:    VersionFromManifest,
			wantErr:   true,
		},
		{
			name:        "inferred from link",
			subgraphs:   map[string]string{"a": fedOneSDL, "b": fedTwoSDL},
			want:        models.LatestFedTwo,
			source:      VersionInferred,
			wantWarning: true,
		},
		{
			name:        "defaulted",
			subgraphs:   map[string]string{"a": fedOneSDL, "c": otherLinkSDL},
			want:        models.LatestFedTwo,
			source:      VersionDefaulted,
			wantWarning: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveFederationVersion(tt.override, tt.manifest, tt.subgraphs)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrFederationMismatch) {
				t.Errorf("error = %v, want ErrFederationMismatch", err)
			}
			if got.Version != tt.want {
				t.Errorf("version = %v, want %v", got.Version, tt.want)
			}
			if got.Source != tt.source {
				t.Errorf("source = %v, want %v", got.Source, tt.source)
			}
			if (got.Warning != "") != tt.wantWarning {
				t.Errorf("warning = %q, wantWarning %v", got.Warning, tt.wantWarning)
			}
		})
	}
}

func TestResolveFederationVersion_ExactString(t *testing.T) {
	v, err := models.ParseFederationVersion("2.3.4")
	if err != nil {
		t.Fatal(err)
	}
	got, err := ResolveFederationVersion(v, models.LatestFedOne, map[string]string{"b": fedTwoSDL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Version.String() != "=2.3.4" {
		t.Errorf("String() = %q, want =2.3.4", got.Version.String())
	}
}

func TestFedTwoSubgraphs_UnparseableFallback(t *testing.T) {
	sdl := `extend schema @link(url: "https://specs.apollo.dev/federation/v2.0") type Query {`
	got := FedTwoSubgraphs(map[string]string{"broken": sdl})
	if len(got) != 1 || got[0] != "broken" {
		t.Errorf("FedTwoSubgraphs() = %v, want [broken]", got)
	}
}
