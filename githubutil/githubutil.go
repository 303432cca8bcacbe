// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.

package githubutil

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-github/v65/github"
	"golang.org/x/oauth2"
)

const githubAPI = "https://api.github.com"

// NewClient creates a GitHub client using the given personal access token.
func NewClient(ctx context.Context, pat string) (*github.Client, error) {
	if pat == "" {
		return nil, errors.New("no GitHub PAT specified")
	}
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: pat})
	tokenClient := oauth2.NewClient(ctx, tokenSource)
	return github.NewClient(tokenClient), nil
}

// NewInstallationClient creates a GitHub client using the given GitHub App ID, installation ID, and private key.
func NewInstallationClient(ctx context.Context, appID int64, installationID int64, privateKey string) (*github.Client, error) {
	if appID == 0 {
		return nil, errors.New("no GitHub App ID specified")
	}
	if installationID == 0 {
		return nil, errors.New("no GitHub App Installation ID specified")
	}
	if privateKey == "" {
		return nil, errors.New("no GitHub App private key specified")
	}
	// Generate a JWT using the private key
	jwt, err := GenerateJWT(appID, privateKey)
	if err != nil {
		return nil, err
	}

	// Exchange JWT for an installation token
	token, err := FetchInstallationToken(jwt, installationID)
	if err != nil {
		return nil, err
	}

	// Create a client using the installation token
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tokenClient := oauth2.NewClient(ctx, tokenSource)

	return github.NewClient(tokenClient), nil
}

// GenerateJWT generates a JWT for a GitHub App.
func GenerateJWT(appID int64, privateKey string) (string, error) {
	privkey, err := base64.StdEncoding.DecodeString(privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to decode private key: %v", err)
	}
	block, _ := pem.Decode(privkey)
	if block == nil {
		return "", fmt.Errorf("failed to decode private key")
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return "", fmt.Errorf("failed to parse RSA private key: %v", err)
	}

	now := time.Now().Unix()
	claims := jwt.MapClaims{
		"iat": now,       // Issued at time
		"exp": now + 600, // Expiration time (10 min)
		"iss": appID,     // GitHub App ID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(key)
	if err != nil {
		return "", fmt.Errorf("failed to sign JWT: %v", err)
	}
	return signedToken, nil
}

func FetchInstallationToken(jwt string, installationID int64) (string, error) {
	url := fmt.Sprintf("%s/app/installations/%d/access_tokens", githubAPI, installationID)

	req, err := http.NewRequest("POST", url, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+jwt)
	req.Header.Set("Accept", "application/vnd.github+json")

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("failed to get installation token, status: %d", resp.StatusCode)
	}

	var result struct {
		Token string `json:"token"`
	}
	err = json.NewDecoder(resp.Body).Decode(&result)
	if err != nil {
		return "", err
	}

	return result.Token, nil
}

// BindPATFlag returns a flag to specify the personal access token.
func BindPATFlag() *string {
	return flag.String("pat", "", "[Required] The GitHub PAT to use.")
}

func BindAPPIDFlag() *int64 {
	return flag.Int64("github-app-id", 0, "[Required] The GitHub App ID to use.")
}

func BindAppInstallationFlag() *int64 {
	return flag.Int64("github-app-installation", 0, "[Required] The GitHub App Installation ID to use.")
}

func BindAppPrivateKeyFlag() *string {
	return flag.String("github-app-private-key", "", "[Required] The GitHub App private key to use.")
}

// BindRepoFlag returns a flag to specify a GitHub repo to target. Parse it with ParseRepoFlag.
func BindRepoFlag() *string {
	return flag.String("repo", "", "[Required] The target repo, in '{owner}/{repo}' form.")
}

// ParseRepoFlag splits a given repo (owner/name) into owner and name, or returns an error.
func ParseRepoFlag(repo *string) (owner, name string, err error) {
	if *repo == "" {
		return "", "", errors.New("repo not specified")
	}
	owner, name, found := strings.Cut(*repo, "/")
	if !found {
		return "", "", fmt.Errorf("unable to split repo into owner and name: %v", repo)
	}
	return owner, name, nil
}

const (
	retryAttempts           = 5
	maxRateLimitResetWait   = time.Minute * 15
	rateLimitResetWaitSlack = time.Second * 5
)

// Retry runs f up to 'retryAttempts' times, printing the error if one is encountered. Handles
// GitHub rate limit exceeded errors by waiting, if the reset will happen reasonably soon.
func Retry(f func() error) error {
	i := 0
	for ; i < retryAttempts; i++ {
		log.Printf("   attempt %v/%v...\n", i+1, retryAttempts)
		err := f()
		if err != nil {
			log.Printf("...attempt %v/%v failed with error: %v\n", i+1, retryAttempts, err)
			if i+1 < retryAttempts {
				var rateErr *github.RateLimitError
				if errors.As(err, &rateErr) {
					resetDuration := time.Until(rateErr.Rate.Reset.Time)

					log.Printf("...rate limit exceeded. Reset at %v, %v from now.\n", rateErr.Rate.Reset, resetDuration)
					if resetDuration > maxRateLimitResetWait {
						log.Printf("...rate limit reset is too far away to reasonably wait. Aborting.")
						return err
					}

					// Sleep until the reset, plus some extra in case our clocks aren't synchronized.
					wait := resetDuration + rateLimitResetWaitSlack
					log.Printf("...waiting %v before next retry.\n", wait)
					time.Sleep(wait)
				}
				continue
			}
			log.Printf("...no retries remaining.\n")
			return err
		}
		break
	}
	log.Printf("...attempt %v/%v successful.\n", i+1, retryAttempts)
	return nil
}

// FetchEachPage helps fetch all data from a GitHub API call that may or may not span multiple
// pages. FetchEachPage initially calls f with no paging parameters, then inspects the GitHub
// response to see if there are more pages to fetch. If so, it constructs paging parameters that
// will fetch the next page and calls f again. This repeats until there aren't any more pages.
//
// Note that FetchEachPage doesn't process any of the result data, and doesn't actually call the
// GitHub API. f must do this itself. This allows FetchEachPage to work with any GitHub API.
func FetchEachPage(f func(options github.ListOptions) (*github.Response, error)) error {
	var options github.ListOptions
	for {
		log.Printf("Fetching page %v...\n", options.Page)
		resp, err := f(options)
		if err != nil {
			return err
		}
		if resp.NextPage == 0 {
			return nil
		}
		options.Page = resp.NextPage
	}
}

