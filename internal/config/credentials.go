package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServiceAccount holds the fields of a Google service account key.
// It is assembled from individual environment variables so that the key
// never has to be written to disk.
type ServiceAccount struct {
	Type                    string `json:"type"`
	ProjectID               string `json:"project_id"`
	PrivateKeyID            string `json:"private_key_id"`
	PrivateKey              string `json:"private_key"`
	ClientEmail             string `json:"client_email"`
	ClientID                string `json:"client_id"`
	AuthURI                 string `json:"auth_uri"`
	TokenURI                string `json:"token_uri"`
	AuthProviderX509CertURL string `json:"auth_provider_x509_cert_url"`
	ClientX509CertURL       string `json:"client_x509_cert_url"`
}

// JSON encodes the service account in the key file format understood by the Google client libraries
func (s *ServiceAccount) JSON() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("service account is nil")
	}
	if s.PrivateKey == "" || s.ClientEmail == "" {
		return nil, fmt.Errorf("service account requires PRIVATE_KEY and CLIENT_EMAIL")
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode service account: %w", err)
	}
	return data, nil
}

// serviceAccountFromEnvironment returns nil when neither a private key nor a
// client email is present, letting the client fall back to default credentials
func serviceAccountFromEnvironment(v *viper.Viper) *ServiceAccount {
	sa := &ServiceAccount{
		Type:                    v.GetString("TYPE"),
		ProjectID:               v.GetString("PROJECT_ID"),
		PrivateKeyID:            v.GetString("PRIVATE_KEY_ID"),
		PrivateKey:              v.GetString("PRIVATE_KEY"),
		ClientEmail:             v.GetString("CLIENT_EMAIL"),
		ClientID:                v.GetString("CLIENT_ID"),
		AuthURI:                 v.GetString("AUTH_URI"),
		TokenURI:                v.GetString("TOKEN_URI"),
		AuthProviderX509CertURL: v.GetString("AUTH_PROVIDER_X509_CERT_URL"),
		ClientX509CertURL:       v.GetString("CLIENT_X509_CERT_URL"),
	}
	if sa.PrivateKey == "" && sa.ClientEmail == "" {
		return nil
	}
	if sa.Type == "" {
		sa.Type = "service_account"
	}
	// .env files usually carry the PEM block on one line with escaped newlines
	sa.PrivateKey = strings.ReplaceAll(sa.PrivateKey, `\n`, "\n")
	return sa
}
