package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kweaver-ai/consolegate/internal/discovery"
	gwerrors "github.com/kweaver-ai/consolegate/internal/errors"
)

// User directory authentication routes
const (
	SSOPath    = "/api/authentication/v1/sso"
	TicketPath = "/api/authentication/v1/ticket"
)

// InternalCredentialID marks a credential built from an internal ticket
const InternalCredentialID = "internal"

// Credential is the third-party credential payload forwarded to the SSO endpoint.
type Credential struct {
	ID     string          `json:"id"`
	Params json.RawMessage `json:"params"`
}

// ParseCredential strictly decodes the caller supplied credential JSON object.
func ParseCredential(raw string) (Credential, error) {
	var cred Credential
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&cred); err != nil {
		return Credential{}, fmt.Errorf("credential is not a JSON object: %w", err)
	}
	if dec.More() {
		return Credential{}, fmt.Errorf("credential has trailing data")
	}
	if cred.ID == "" {
		return Credential{}, fmt.Errorf("credential id is required")
	}
	if len(cred.Params) == 0 {
		cred.Params = json.RawMessage("{}")
	}
	return cred, nil
}

// InternalCredential wraps a ticket issued by IssueTicket.
func InternalCredential(ticket, userID string) Credential {
	params, _ := json.Marshal(map[string]string{"ticket": ticket, "user_id": userID}) // Safe to ignore: map of strings always marshals
	return Credential{ID: InternalCredentialID, Params: params}
}

// SSORequest asks the directory to turn a credential into an authorization code
type SSORequest struct {
	Credential     Credential
	RedirectPrefix string
	State          string
	Lang           string
}

type ssoBody struct {
	ClientID     string     `json:"client_id"`
	RedirectURI  string     `json:"redirect_uri"`
	ResponseType string     `json:"response_type"`
	Scope        string     `json:"scope"`
	State        string     `json:"state,omitempty"`
	Lang         string     `json:"lang,omitempty"`
	Credential   Credential `json:"credential"`
}

type ssoResponse struct {
	RedirectTo string `json:"redirect_to"`
	Code       string `json:"code"`
}

// SSO posts the credential and returns the authorization code, taken either from
// the "code" field or from the code query parameter of "redirect_to".
func (c *Client) SSO(ctx context.Context, cfg *discovery.ServiceConfig, in SSORequest) (_ string, err error) {
	const op = "sso"
	defer c.observe(op, time.Now(), &err)

	payload := ssoBody{
		ClientID:     cfg.ClientID,
		RedirectURI:  RedirectURI(cfg, in.RedirectPrefix),
		ResponseType: "code",
		Scope:        strings.Join(c.scopes, " "),
		State:        in.State,
		Lang:         in.Lang,
		Credential:   in.Credential,
	}
	req, err := c.jsonRequest(ctx, cfg.UserDirectory.URL(SSOPath), payload)
	if err != nil {
		return "", err
	}

	var out ssoResponse
	if err := c.do(c.http, req, op, &out); err != nil {
		return "", err
	}
	if out.Code != "" {
		return out.Code, nil
	}
	if out.RedirectTo != "" {
		if u, perr := url.Parse(out.RedirectTo); perr == nil {
			if code := u.Query().Get("code"); code != "" {
				return code, nil
			}
		}
	}
	return "", gwerrors.NewMalformedResponse(op, http.StatusOK, nil, fmt.Errorf("response carries no authorization code"))
}

type ticketBody struct {
	ClientID     string `json:"client_id"`
	RefreshToken string `json:"refresh_token"`
}

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// IssueTicket exchanges a refresh token for a short-lived single sign-on ticket.
func (c *Client) IssueTicket(ctx context.Context, cfg *discovery.ServiceConfig, refreshToken string) (_ string, err error) {
	const op = "issue_ticket"
	defer c.observe(op, time.Now(), &err)

	req, err := c.jsonRequest(ctx, cfg.UserDirectory.URL(TicketPath), ticketBody{
		ClientID:     cfg.ClientID,
		RefreshToken: refreshToken,
	})
	if err != nil {
		return "", err
	}

	var out ticketResponse
	if err := c.do(c.http, req, op, &out); err != nil {
		return "", err
	}
	if out.Ticket == "" {
		return "", gwerrors.NewMalformedResponse(op, http.StatusOK, nil, fmt.Errorf("response carries no ticket"))
	}
	return out.Ticket, nil
}

func (c *Client) jsonRequest(ctx context.Context, target string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, gwerrors.NewTransportError(target, fmt.Errorf("failed to encode request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		return nil, gwerrors.NewTransportError(target, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}
