package decoy

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/ssh"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// canaryDomain is the suffix under which canary hostnames are minted.
// The zone is sinkholed; any lookup of a name under it is an attacker
// exercising a planted credential.
const canaryDomain = "cdn-fetch.net"

// minPasswordLength keeps generated passwords plausible to automated
// credential harvesters.
const minPasswordLength = 12

const (
	upperAlnum = "ABCDEFGHIJKLMNOPQRSTUVWXYZ234567"
	base62     = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	lowerHex   = "0123456789abcdef"
)

var fakeUsers = []string{"admin", "backup", "deploy", "svc-nas", "jenkins", "root"}

// randomString draws n characters from the alphabet using crypto/rand.
func randomString(alphabet string, n int) (string, error) {
	var b strings.Builder
	b.Grow(n)
	max := big.NewInt(int64(len(alphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}

// NewCanaryHostname mints a unique hostname whose resolution marks a
// credential trip.
func NewCanaryHostname() (string, error) {
	token, err := randomString(lowerHex, 12)
	if err != nil {
		return "", err
	}
	return token + "." + canaryDomain, nil
}

// GenerateCredential produces one synthetic credential of the given
// wire form. Values look real enough to harvest but never grant access
// anywhere.
func GenerateCredential(ct models.CredentialType, plantedLocation string) (*models.PlantedCredential, error) {
	cred := &models.PlantedCredential{
		CredentialType:  ct,
		PlantedLocation: plantedLocation,
	}

	switch ct {
	case models.CredentialAWSKey:
		suffix, err := randomString(upperAlnum, 16)
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = "AKIA" + suffix

	case models.CredentialGitHubPAT:
		suffix, err := randomString(base62, 36)
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = "ghp_" + suffix

	case models.CredentialBearerToken:
		token, err := randomString(base62, 256)
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = token

	case models.CredentialSSHKey:
		value, err := generateSSHKeyPEM()
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = value

	case models.CredentialUserPass:
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(fakeUsers))))
		if err != nil {
			return nil, err
		}
		password, err := randomString(base62+"!#%+", minPasswordLength)
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = fakeUsers[idx.Int64()] + ":" + password

	case models.CredentialEnvFile:
		value, canary, err := generateEnvFile()
		if err != nil {
			return nil, err
		}
		cred.CredentialValue = value
		cred.CanaryHostname = canary

	default:
		return nil, fmt.Errorf("unknown credential type %q", ct)
	}

	// Every non-env credential gets its own canary hostname so DNS
	// lookups betray offline use.
	if cred.CanaryHostname == "" {
		canary, err := NewCanaryHostname()
		if err != nil {
			return nil, err
		}
		cred.CanaryHostname = canary
	}
	return cred, nil
}

// generateSSHKeyPEM produces an unencrypted RSA private key in OpenSSH
// PEM form.
func generateSSHKeyPEM() (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", fmt.Errorf("generate rsa key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(key, "")
	if err != nil {
		return "", fmt.Errorf("marshal ssh key: %w", err)
	}
	return string(pem.EncodeToMemory(block)), nil
}

// generateEnvFile produces a plausible .env blob. The API base URL
// embeds a canary hostname so merely using the file triggers DNS.
func generateEnvFile() (content, canary string, err error) {
	canary, err = NewCanaryHostname()
	if err != nil {
		return "", "", err
	}
	awsSuffix, err := randomString(upperAlnum, 16)
	if err != nil {
		return "", "", err
	}
	awsSecret, err := randomString(base62, 40)
	if err != nil {
		return "", "", err
	}
	dbPass, err := randomString(base62, 16)
	if err != nil {
		return "", "", err
	}

	content = strings.Join([]string{
		"# deployment environment",
		"API_BASE_URL=https://" + canary + "/v1",
		"AWS_ACCESS_KEY_ID=AKIA" + awsSuffix,
		"AWS_SECRET_ACCESS_KEY=" + awsSecret,
		"DB_HOST=10.0.12.4",
		"DB_USER=app",
		"DB_PASSWORD=" + dbPass,
		"",
	}, "\n")
	return content, canary, nil
}
