package models

import "time"

// DecoyType identifies the archetype a decoy emulates.
type DecoyType string

const (
	DecoyDevServer     DecoyType = "dev_server"
	DecoyFileShare     DecoyType = "file_share"
	DecoyHomeAssistant DecoyType = "home_assistant"
	DecoyMimic         DecoyType = "mimic"
)

// DecoyStatus is the lifecycle state of a decoy.
type DecoyStatus string

const (
	DecoyActive   DecoyStatus = "active"
	DecoyDegraded DecoyStatus = "degraded"
	DecoyStopped  DecoyStatus = "stopped"
)

// Decoy is one deception service instance.
type Decoy struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	DecoyType           DecoyType      `json:"decoy_type"`
	BindAddress         string         `json:"bind_address"`
	Port                int            `json:"port"`
	Status              DecoyStatus    `json:"status"`
	Config              map[string]any `json:"config,omitempty"`
	ConnectionCount     int            `json:"connection_count"`
	CredentialTripCount int            `json:"credential_trip_count"`
	FailureCount        int            `json:"failure_count"`
	LastFailureAt       *time.Time     `json:"last_failure_at,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// CredentialType identifies the wire form of a planted credential.
type CredentialType string

const (
	CredentialAWSKey      CredentialType = "aws_access_key"
	CredentialGitHubPAT   CredentialType = "github_pat"
	CredentialBearerToken CredentialType = "bearer_token"
	CredentialSSHKey      CredentialType = "ssh_private_key"
	CredentialUserPass    CredentialType = "user_password"
	CredentialEnvFile     CredentialType = "env_file"
)

// PlantedCredential is a synthetic credential seeded into a decoy or
// canary location. Values never grant access to any real system; any
// observation of one in traffic means a decoy has been exercised.
type PlantedCredential struct {
	ID              string         `json:"id"`
	CredentialType  CredentialType `json:"credential_type"`
	CredentialValue string         `json:"credential_value"`
	CanaryHostname  string         `json:"canary_hostname,omitempty"`
	PlantedLocation string         `json:"planted_location"`
	DecoyID         string         `json:"decoy_id,omitempty"`
	Tripped         bool           `json:"tripped"`
	FirstTrippedAt  *time.Time     `json:"first_tripped_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// DecoyConnection records one client interaction with a decoy.
type DecoyConnection struct {
	ID             string    `json:"id"`
	DecoyID        string    `json:"decoy_id"`
	SourceIP       string    `json:"source_ip"`
	SourceMAC      string    `json:"source_mac,omitempty"`
	Port           int       `json:"port"`
	Protocol       string    `json:"protocol,omitempty"`
	RequestPath    string    `json:"request_path,omitempty"`
	CredentialUsed string    `json:"credential_used,omitempty"`
	CredentialID   string    `json:"credential_id,omitempty"`
	EventSeq       int64     `json:"event_seq,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// CanaryObservation records a DNS lookup of a canary hostname embedded
// in a planted credential.
type CanaryObservation struct {
	ID             string    `json:"id"`
	CredentialID   string    `json:"credential_id"`
	CanaryHostname string    `json:"canary_hostname"`
	QueriedByIP    string    `json:"queried_by_ip"`
	QueriedByMAC   string    `json:"queried_by_mac,omitempty"`
	EventSeq       int64     `json:"event_seq,omitempty"`
	ObservedAt     time.Time `json:"observed_at"`
}
