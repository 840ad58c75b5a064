package ota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	logger "github.com/sirupsen/logrus"
)

const thingNameHeader = "x-amzn-iot-thingname"

// CredentialProvider exchanges the device certificate for temporary AWS
// credentials through the AWS IoT credential provider.
type CredentialProvider struct {
	Endpoint  string
	RoleAlias string
	ThingName string
	Client    *http.Client
}

type credentialResponse struct {
	Credentials struct {
		AccessKeyID     string `json:"accessKeyId"`
		SecretAccessKey string `json:"secretAccessKey"`
		SessionToken    string `json:"sessionToken"`
		Expiration      string `json:"expiration"`
	} `json:"credentials"`
}

var _ aws.CredentialsProvider = (*CredentialProvider)(nil)

// NewCredentialProvider builds a provider that authenticates with the given
// client certificate. roots may be nil to use the system pool.
func NewCredentialProvider(endpoint, roleAlias, thingName string, cert tls.Certificate, roots *x509.CertPool) *CredentialProvider {
	return &CredentialProvider{
		Endpoint:  endpoint,
		RoleAlias: roleAlias,
		ThingName: thingName,
		Client: &http.Client{
			Timeout: time.Second * 30,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					Certificates: []tls.Certificate{cert},
					RootCAs:      roots,
					MinVersion:   tls.VersionTLS12,
				},
			},
		},
	}
}

func (p *CredentialProvider) Retrieve(ctx context.Context) (aws.Credentials, error) {
	u := fmt.Sprintf("%v/role-aliases/%v/credentials", p.Endpoint, url.PathEscape(p.RoleAlias))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return aws.Credentials{}, err
	}
	req.Header.Set(thingNameHeader, p.ThingName)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("credential request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return aws.Credentials{}, fmt.Errorf("credential provider returned [%v] [%s]", resp.Status, body)
	}

	var cr credentialResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return aws.Credentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	c := cr.Credentials
	if c.AccessKeyID == "" || c.SecretAccessKey == "" {
		return aws.Credentials{}, fmt.Errorf("credential provider returned no key")
	}
	creds := aws.Credentials{
		AccessKeyID:     c.AccessKeyID,
		SecretAccessKey: c.SecretAccessKey,
		SessionToken:    c.SessionToken,
		Source:          "IoTCredentialProvider",
	}
	if c.Expiration != "" {
		exp, err := time.Parse(time.RFC3339, c.Expiration)
		if err != nil {
			logger.Warnf("Unable to parse credential expiration [%v] [%v]", c.Expiration, err)
		} else {
			creds.CanExpire = true
			creds.Expires = exp
		}
	}
	return creds, nil
}
