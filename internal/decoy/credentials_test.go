package decoy

import (
	"strings"
	"testing"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

func TestGenerateCredential_Shapes(t *testing.T) {
	cases := []struct {
		ct    models.CredentialType
		check func(t *testing.T, value string)
	}{
		{models.CredentialAWSKey, func(t *testing.T, v string) {
			if !strings.HasPrefix(v, "AKIA") || len(v) != 20 {
				t.Errorf("aws key %q: want AKIA prefix and 20 chars", v)
			}
		}},
		{models.CredentialGitHubPAT, func(t *testing.T, v string) {
			if !strings.HasPrefix(v, "ghp_") || len(v) != 40 {
				t.Errorf("github pat %q: want ghp_ prefix and 40 chars", v)
			}
		}},
		{models.CredentialBearerToken, func(t *testing.T, v string) {
			if len(v) != 256 {
				t.Errorf("bearer token length = %d, want 256", len(v))
			}
		}},
		{models.CredentialUserPass, func(t *testing.T, v string) {
			user, pass, ok := strings.Cut(v, ":")
			if !ok || user == "" {
				t.Fatalf("user:pass %q not in expected form", v)
			}
			if len(pass) < minPasswordLength {
				t.Errorf("password length = %d, want >= %d", len(pass), minPasswordLength)
			}
		}},
		{models.CredentialSSHKey, func(t *testing.T, v string) {
			if !strings.Contains(v, "PRIVATE KEY") {
				t.Errorf("ssh key does not look like a PEM private key")
			}
		}},
	}

	for _, tc := range cases {
		t.Run(string(tc.ct), func(t *testing.T) {
			cred, err := GenerateCredential(tc.ct, "/some/path")
			if err != nil {
				t.Fatalf("generate %s: %v", tc.ct, err)
			}
			if cred.PlantedLocation != "/some/path" {
				t.Errorf("planted_location = %q", cred.PlantedLocation)
			}
			if !strings.HasSuffix(cred.CanaryHostname, "."+canaryDomain) {
				t.Errorf("canary hostname %q not under %s", cred.CanaryHostname, canaryDomain)
			}
			tc.check(t, cred.CredentialValue)
		})
	}
}

func TestGenerateCredential_EnvFileEmbedsCanary(t *testing.T) {
	cred, err := GenerateCredential(models.CredentialEnvFile, "/.env")
	if err != nil {
		t.Fatalf("generate env file: %v", err)
	}
	if cred.CanaryHostname == "" {
		t.Fatal("env file credential has no canary hostname")
	}
	if !strings.Contains(cred.CredentialValue, cred.CanaryHostname) {
		t.Error("env file body does not embed its canary hostname")
	}
	if !strings.Contains(cred.CredentialValue, "AWS_SECRET_ACCESS_KEY=") {
		t.Error("env file missing expected variables")
	}
}

func TestGenerateCredential_UnknownType(t *testing.T) {
	if _, err := GenerateCredential(models.CredentialType("bogus"), "/x"); err == nil {
		t.Error("unknown credential type should error")
	}
}

func TestNewCanaryHostname_Unique(t *testing.T) {
	a, err := NewCanaryHostname()
	if err != nil {
		t.Fatalf("mint hostname: %v", err)
	}
	b, err := NewCanaryHostname()
	if err != nil {
		t.Fatalf("mint hostname: %v", err)
	}
	if a == b {
		t.Errorf("hostnames collide: %q", a)
	}
	if !strings.HasSuffix(a, "."+canaryDomain) {
		t.Errorf("hostname %q not under canary zone", a)
	}
}

func TestArchetypeForPort(t *testing.T) {
	cases := []struct {
		port int
		want models.DecoyType
	}{
		{3000, models.DecoyDevServer},
		{8080, models.DecoyDevServer},
		{1883, models.DecoyHomeAssistant},
		{8123, models.DecoyHomeAssistant},
		{445, models.DecoyFileShare},
		{22, models.DecoyFileShare},
	}
	for _, tc := range cases {
		if got := ArchetypeForPort(tc.port); got != tc.want {
			t.Errorf("ArchetypeForPort(%d) = %q, want %q", tc.port, got, tc.want)
		}
	}
}

func TestArchetypeFor_MimicHasNoBlueprint(t *testing.T) {
	if _, err := archetypeFor(models.DecoyMimic); err == nil {
		t.Error("mimic decoys should have no static archetype")
	}
}

func TestArchetypeRoutes_ServePlannedCredentials(t *testing.T) {
	for dt, a := range archetypes {
		creds := make(map[string]models.PlantedCredential, len(a.Plan))
		for _, p := range a.Plan {
			creds[p.Location] = models.PlantedCredential{
				CredentialType:  p.Type,
				CredentialValue: "VALUE-" + string(p.Type),
				PlantedLocation: p.Location,
			}
		}
		routes := a.Routes(creds)

		byPath := make(map[string]Route, len(routes))
		for _, r := range routes {
			byPath[r.Path] = r
		}
		for _, p := range a.Plan {
			route, ok := byPath[p.Location]
			if !ok {
				t.Errorf("%s: no route serves planted location %s", dt, p.Location)
				continue
			}
			if !strings.Contains(route.Body, "VALUE-"+string(p.Type)) {
				t.Errorf("%s: route %s does not expose its credential", dt, p.Location)
			}
		}
	}
}

func TestNormalizeQueryName(t *testing.T) {
	cases := []struct{ in, want string }{
		{"ABCDEF123456.cdn-fetch.net.", "abcdef123456.cdn-fetch.net"},
		{"abcdef123456.cdn-fetch.net", "abcdef123456.cdn-fetch.net"},
		{"Example.COM.", "example.com"},
	}
	for _, tc := range cases {
		if got := normalizeQueryName(tc.in); got != tc.want {
			t.Errorf("normalizeQueryName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
