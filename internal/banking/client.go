// Package banking wraps the Enable Banking REST API for AISP operations:
// consent authorization, session management and transaction fetching.
// Authentication uses RS256-signed JWTs with the application ID as key ID.
package banking

import (
	"bytes"
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultBaseURL = "https://api.enablebanking.com"
	jwtTTL         = time.Hour
	requestTimeout = 30 * time.Second
)

// Error is an Enable Banking API failure. StatusCode is zero for transport
// errors.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("enable banking: %v", e.Err)
	}
	return fmt.Sprintf("enable banking: API error %d: %s", e.StatusCode, e.Body)
}

func (e *Error) Unwrap() error { return e.Err }

// AccountID carries the bank-side account identifiers.
type AccountID struct {
	IBAN string `json:"iban"`
}

type AccountIdentification struct {
	Identification string `json:"identification"`
}

// SessionAccount is one account granted by a consent session.
type SessionAccount struct {
	UID           string                  `json:"uid"`
	AccountID     AccountID               `json:"account_id"`
	AllAccountIDs []AccountIdentification `json:"all_account_ids"`
}

// Identifiers returns the IBAN followed by every other identification, for
// matching against locally stored account numbers.
func (a SessionAccount) Identifiers() []string {
	var ids []string
	if a.AccountID.IBAN != "" {
		ids = append(ids, a.AccountID.IBAN)
	}
	for _, aid := range a.AllAccountIDs {
		if aid.Identification != "" {
			ids = append(ids, aid.Identification)
		}
	}
	return ids
}

// Authorization is the response to a started consent flow.
type Authorization struct {
	URL             string `json:"url"`
	AuthorizationID string `json:"authorization_id"`
}

// Session is a created or fetched consent session.
type Session struct {
	SessionID string           `json:"session_id"`
	Status    string           `json:"status"`
	Accounts  []SessionAccount `json:"accounts"`
	Access    struct {
		ValidUntil string `json:"valid_until"`
	} `json:"access"`
}

// Amount is a currency/amount pair; the API serializes amounts as strings.
type Amount struct {
	Currency string `json:"currency"`
	Amount   string `json:"amount"`
}

// Counterparty is the creditor or debtor of a transaction.
type Counterparty struct {
	Name string `json:"name"`
}

// Transaction is one bank transaction as returned by the API.
type Transaction struct {
	EntryReference        string        `json:"entry_reference"`
	TransactionID         string        `json:"transaction_id"`
	BookingDate           string        `json:"booking_date"`
	ValueDate             string        `json:"value_date"`
	TransactionDate       string        `json:"transaction_date"`
	CreditDebitIndicator  string        `json:"credit_debit_indicator"`
	TransactionAmount     Amount        `json:"transaction_amount"`
	BalanceAfter          *Amount       `json:"balance_after_transaction"`
	RemittanceInformation []string      `json:"remittance_information"`
	Creditor              *Counterparty `json:"creditor"`
	Debtor                *Counterparty `json:"debtor"`
}

// AuthorizationParams configures StartAuthorization. Zero values get the
// Swedish business-banking defaults.
type AuthorizationParams struct {
	RedirectURL  string
	State        string
	ValidUntil   string
	PSUType      string
	ASPSPName    string
	ASPSPCountry string
}

type Client struct {
	appID      string
	baseURL    string
	audience   string
	httpClient *http.Client
	privateKey *rsa.PrivateKey
}

// NewClient loads the RSA private key from keyPath and builds a client against
// baseURL (DefaultBaseURL when empty). The JWT audience is derived from the
// base URL host.
func NewClient(appID, keyPath, baseURL string) (*Client, error) {
	if appID == "" {
		return nil, fmt.Errorf("banking app ID not configured")
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}

	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}

	return &Client{
		appID:      appID,
		baseURL:    baseURL,
		audience:   parsed.Host,
		httpClient: &http.Client{Timeout: requestTimeout},
		privateKey: privateKey,
	}, nil
}

func (c *Client) generateJWT() (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss": "enablebanking.com",
		"aud": c.audience,
		"iat": now.Unix(),
		"exp": now.Add(jwtTTL).Unix(),
	})
	token.Header["kid"] = c.appID
	return token.SignedString(c.privateKey)
}

func (c *Client) request(ctx context.Context, method, path string, body interface{}, params url.Values, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return &Error{Err: err}
		}
		reqBody = bytes.NewReader(data)
	}

	reqURL := c.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return &Error{Err: err}
	}

	token, err := c.generateJWT()
	if err != nil {
		return &Error{Err: fmt.Errorf("signing JWT: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		return &Error{StatusCode: resp.StatusCode, Body: string(data)}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// StartAuthorization begins the consent/BankID flow. The returned URL is where
// the user completes authorization.
func (c *Client) StartAuthorization(ctx context.Context, p AuthorizationParams) (*Authorization, error) {
	if p.ValidUntil == "" {
		p.ValidUntil = time.Now().UTC().Add(90 * 24 * time.Hour).Format("2006-01-02T15:04:05.000Z")
	}
	if p.PSUType == "" {
		p.PSUType = "business"
	}
	if p.ASPSPName == "" {
		p.ASPSPName = "Handelsbanken"
	}
	if p.ASPSPCountry == "" {
		p.ASPSPCountry = "SE"
	}

	body := map[string]interface{}{
		"access": map[string]string{
			"valid_until": p.ValidUntil,
		},
		"aspsp": map[string]string{
			"name":    p.ASPSPName,
			"country": p.ASPSPCountry,
		},
		"state":        p.State,
		"redirect_url": p.RedirectURL,
		"psu_type":     p.PSUType,
	}

	auth := &Authorization{}
	if err := c.request(ctx, http.MethodPost, "/auth", body, nil, auth); err != nil {
		return nil, err
	}
	return auth, nil
}

// CreateSession exchanges the authorization code for a consent session.
func (c *Client) CreateSession(ctx context.Context, code string) (*Session, error) {
	session := &Session{}
	err := c.request(ctx, http.MethodPost, "/sessions", map[string]string{"code": code}, nil, session)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// GetSession fetches session status and validity.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	session := &Session{}
	err := c.request(ctx, http.MethodGet, "/sessions/"+sessionID, nil, nil, session)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// DeleteSession revokes a session and its bank-side consent.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	return c.request(ctx, http.MethodDelete, "/sessions/"+sessionID, nil, nil, nil)
}

type transactionsPage struct {
	Transactions    []Transaction `json:"transactions"`
	ContinuationKey string        `json:"continuation_key"`
}

// GetTransactions fetches every transaction for an account, following
// continuation keys until the last page.
func (c *Client) GetTransactions(ctx context.Context, accountUID, dateFrom, dateTo string) ([]Transaction, error) {
	params := url.Values{}
	if dateFrom != "" {
		params.Set("date_from", dateFrom)
	}
	if dateTo != "" {
		params.Set("date_to", dateTo)
	}

	var all []Transaction
	for {
		page := &transactionsPage{}
		err := c.request(ctx, http.MethodGet, "/accounts/"+accountUID+"/transactions", nil, params, page)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Transactions...)

		if page.ContinuationKey == "" {
			return all, nil
		}
		params.Set("continuation_key", page.ContinuationKey)
	}
}
