package decoy

import (
	"fmt"
	"net/http"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// credentialPlan names the credentials an archetype plants and where
// each one surfaces.
type credentialPlan struct {
	Type     models.CredentialType
	Location string // route path the value is served from
}

// archetype describes one decoy variant: its default port, server
// header, credential plan, and route builder.
type archetype struct {
	DefaultPort int
	ServerHdr   string
	Plan        []credentialPlan
	Routes      func(creds map[string]models.PlantedCredential) []Route
}

// archetypes maps decoy types to their blueprints. Mimic decoys are
// generated from scouted profiles instead and have no entry here.
var archetypes = map[models.DecoyType]archetype{
	models.DecoyDevServer: {
		DefaultPort: 3000,
		ServerHdr:   "Express",
		Plan: []credentialPlan{
			{Type: models.CredentialEnvFile, Location: "/.env"},
			{Type: models.CredentialGitHubPAT, Location: "/.git/config"},
			{Type: models.CredentialAWSKey, Location: "/config.json"},
		},
		Routes: devServerRoutes,
	},
	models.DecoyFileShare: {
		DefaultPort: 8082,
		ServerHdr:   "nginx/1.18.0",
		Plan: []credentialPlan{
			{Type: models.CredentialUserPass, Location: "/backup/credentials.txt"},
			{Type: models.CredentialSSHKey, Location: "/backup/id_rsa"},
		},
		Routes: fileShareRoutes,
	},
	models.DecoyHomeAssistant: {
		DefaultPort: 8123,
		ServerHdr:   "",
		Plan: []credentialPlan{
			{Type: models.CredentialBearerToken, Location: "/local/secrets.yaml"},
		},
		Routes: homeAssistantRoutes,
	},
}

// archetypeFor returns the blueprint for a decoy type.
func archetypeFor(dt models.DecoyType) (archetype, error) {
	a, ok := archetypes[dt]
	if !ok {
		return archetype{}, fmt.Errorf("no archetype for decoy type %q", dt)
	}
	return a, nil
}

// ArchetypeForPort maps an observed service port to the decoy archetype
// most likely to blend in beside it. Developer ports invite a dev
// server, smart-home ports a hub, anything else a file share.
func ArchetypeForPort(port int) models.DecoyType {
	switch port {
	case 3000, 5000, 8000, 8080, 9000:
		return models.DecoyDevServer
	case 1883, 8123:
		return models.DecoyHomeAssistant
	default:
		return models.DecoyFileShare
	}
}

func credValue(creds map[string]models.PlantedCredential, path string) string {
	return creds[path].CredentialValue
}

func devServerRoutes(creds map[string]models.PlantedCredential) []Route {
	pat := credValue(creds, "/.git/config")
	return []Route{
		{
			Method: http.MethodGet, Path: "/", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    "<!DOCTYPE html><html><head><title>dashboard-api</title></head><body><h1>dashboard-api</h1><p>development build</p></body></html>",
		},
		{
			Method: http.MethodGet, Path: "/api/status", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `{"status":"ok","env":"development","version":"0.4.2"}`,
		},
		{
			Method: http.MethodGet, Path: "/.env", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain"},
			Body:    credValue(creds, "/.env"),
		},
		{
			Method: http.MethodGet, Path: "/.git/config", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain"},
			Body: "[core]\n\trepositoryformatversion = 0\n[remote \"origin\"]\n\turl = https://" +
				pat + "@github.com/internal/dashboard-api.git\n\tfetch = +refs/heads/*:refs/remotes/origin/*\n",
		},
		{
			Method: http.MethodGet, Path: "/config.json", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body: `{"s3_bucket":"dashboard-assets","aws_access_key_id":"` +
				credValue(creds, "/config.json") + `","region":"us-east-1"}`,
		},
	}
}

func fileShareRoutes(creds map[string]models.PlantedCredential) []Route {
	return []Route{
		{
			Method: http.MethodGet, Path: "/", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    "<html><head><title>Index of /</title></head><body><h1>Index of /</h1><pre><a href=\"backup/\">backup/</a>\n<a href=\"media/\">media/</a>\n</pre></body></html>",
		},
		{
			Method: http.MethodGet, Path: "/backup/", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    "<html><head><title>Index of /backup/</title></head><body><h1>Index of /backup/</h1><pre><a href=\"credentials.txt\">credentials.txt</a>\n<a href=\"id_rsa\">id_rsa</a>\n</pre></body></html>",
		},
		{
			Method: http.MethodGet, Path: "/backup/credentials.txt", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain"},
			Body:    "# nas admin login\n" + credValue(creds, "/backup/credentials.txt") + "\n",
		},
		{
			Method: http.MethodGet, Path: "/backup/id_rsa", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/octet-stream"},
			Body:    credValue(creds, "/backup/id_rsa"),
		},
		{
			Method: http.MethodGet, Path: "/media/", Status: http.StatusForbidden,
			Headers: map[string]string{"Content-Type": "text/html"},
			Body:    "<html><body><h1>403 Forbidden</h1></body></html>",
		},
	}
}

func homeAssistantRoutes(creds map[string]models.PlantedCredential) []Route {
	return []Route{
		{
			Method: http.MethodGet, Path: "/", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/html; charset=utf-8"},
			Body:    "<!DOCTYPE html><html><head><title>Home Assistant</title></head><body><home-assistant></home-assistant></body></html>",
		},
		{
			Method: http.MethodGet, Path: "/api/", Status: http.StatusUnauthorized,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `{"message":"401: Unauthorized"}`,
		},
		{
			Method: http.MethodGet, Path: "/auth/providers", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "application/json"},
			Body:    `[{"name":"Home Assistant Local","type":"homeassistant","id":null}]`,
		},
		{
			Method: http.MethodGet, Path: "/local/secrets.yaml", Status: http.StatusOK,
			Headers: map[string]string{"Content-Type": "text/plain"},
			Body:    "# long-lived access token for node-red\nha_token: " + credValue(creds, "/local/secrets.yaml") + "\n",
		},
	}
}
