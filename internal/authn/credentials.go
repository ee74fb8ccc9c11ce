// Package authn resolves the credentials of the broker and the console API.
package authn

import (
	"net/http"
	"os"
)

// Credentials are the secrets used to reach the backends.
type Credentials struct {
	BrokerLogin    string
	BrokerPasscode string
	ConsoleToken   string
}

// CredentialsFromEnv reads the credentials from the environment.
func CredentialsFromEnv() Credentials {
	return Credentials{
		BrokerLogin:    os.Getenv("FEED_BROKER_LOGIN"),
		BrokerPasscode: os.Getenv("FEED_BROKER_PASSCODE"),
		ConsoleToken:   os.Getenv("CONSOLE_API_TOKEN"),
	}
}

// PopulateFromEnv fills the empty fields of creds from the environment.
func PopulateFromEnv(creds *Credentials) {
	credsFromEnv := CredentialsFromEnv()
	if creds.BrokerLogin == "" {
		creds.BrokerLogin = credsFromEnv.BrokerLogin
	}
	if creds.BrokerPasscode == "" {
		creds.BrokerPasscode = credsFromEnv.BrokerPasscode
	}
	if creds.ConsoleToken == "" {
		creds.ConsoleToken = credsFromEnv.ConsoleToken
	}
}

// SetBearerToken sets the Authorization header of req. An empty token leaves
// req unauthenticated.
func SetBearerToken(req *http.Request, token string) {
	if token == "" {
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}
