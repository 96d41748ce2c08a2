// Package chain talks to the settlement relay: the external service that
// holds the signing keys and performs the raw contract calls. The relay
// exposes a small JSON API; this client maps its responses onto the typed
// collaborator contracts consumed by app and settlement.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chainquiz-service/internal/app"
	"chainquiz-service/internal/domain"
)

// Error codes returned by the relay on failed settlement submissions.
const (
	codeInsufficientFunds = "insufficient_funds"
	codeReverted          = "reverted"
	codeTimeout           = "timeout"
)

// Client is an HTTP client for the settlement relay. It implements
// app.CreditSource, app.TournamentChain and settlement.Submitter.
type Client struct {
	baseURL string
	signer  string
	http    *http.Client
}

// NewClient builds a relay client. confirmTimeout bounds the settle call,
// which includes the relay's wait for on-chain confirmation.
func NewClient(baseURL, signerAddress string, confirmTimeout time.Duration) *Client {
	if confirmTimeout <= 0 {
		confirmTimeout = 90 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		signer:  strings.ToLower(signerAddress),
		http:    &http.Client{Timeout: confirmTimeout},
	}
}

func (c *Client) SignerAddress() string { return c.signer }

type stateResponse struct {
	EntryFeeMicro   int64  `json:"entryFeeMicro"`
	TotalFundsMicro int64  `json:"totalFundsMicro"`
	Owner           string `json:"owner"`
	BlockNumber     uint64 `json:"blockNumber"`
}

func (c *Client) state(ctx context.Context) (*stateResponse, error) {
	var out stateResponse
	if err := c.get(ctx, "/state", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) OwnerAddress(ctx context.Context) (string, error) {
	st, err := c.state(ctx)
	if err != nil {
		return "", err
	}
	return strings.ToLower(st.Owner), nil
}

func (c *Client) EntryFee(ctx context.Context) (int64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return st.EntryFeeMicro, nil
}

func (c *Client) PoolFunds(ctx context.Context) (int64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return st.TotalFundsMicro, nil
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	return st.BlockNumber, nil
}

// Credits implements app.CreditSource.
func (c *Client) Credits(ctx context.Context, addr string) (int64, error) {
	var out struct {
		Credits int64 `json:"credits"`
	}
	if err := c.get(ctx, "/credits/"+strings.ToLower(addr), &out); err != nil {
		return 0, err
	}
	return out.Credits, nil
}

type settleResponse struct {
	TxHash string `json:"txHash"`
	Error  string `json:"error"`
	Code   string `json:"code"`
}

// Submit settles one outcome through the relay. A confirmation-wait timeout
// on the relay side returns the tx hash with a nil error: the transaction
// was broadcast and may still land, so retrying would risk a duplicate
// submission.
func (c *Client) Submit(ctx context.Context, addr string, won bool) (string, error) {
	body := map[string]any{"address": strings.ToLower(addr), "won": won}
	var out settleResponse
	status, err := c.post(ctx, "/settle", body, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusOK {
		return out.TxHash, nil
	}
	switch out.Code {
	case codeInsufficientFunds:
		return "", fmt.Errorf("%w: %s", domain.ErrInsufficientPoolFunds, out.Error)
	case codeReverted:
		return "", fmt.Errorf("%w: %s", domain.ErrTransactionReverted, out.Error)
	case codeTimeout:
		if out.TxHash != "" {
			return out.TxHash, nil
		}
		return "", fmt.Errorf("settle timed out: %s", out.Error)
	}
	return "", fmt.Errorf("settle failed (%d): %s", status, out.Error)
}

type tournamentResponse struct {
	EntryFeeMicro       int64 `json:"entryFeeMicro"`
	RegistrationEnd     int64 `json:"registrationEnd"`
	Start               int64 `json:"start"`
	End                 int64 `json:"end"`
	QuestionsPerSession int   `json:"questionsPerSession"`
	TimePerQuestion     int   `json:"timePerQuestion"`
	Settled             bool  `json:"settled"`
	TotalPoolMicro      int64 `json:"totalPoolMicro"`
	PlayerCount         int   `json:"playerCount"`
}

// Info implements app.TournamentChain.
func (c *Client) Info(ctx context.Context, tournamentID int64) (app.TournamentInfo, error) {
	var out tournamentResponse
	err := c.get(ctx, fmt.Sprintf("/tournaments/%d", tournamentID), &out)
	if err != nil {
		if isNotFound(err) {
			return app.TournamentInfo{}, domain.ErrTournamentNotFound
		}
		return app.TournamentInfo{}, err
	}
	return app.TournamentInfo{
		EntryFee:            out.EntryFeeMicro,
		RegistrationEnd:     time.Unix(out.RegistrationEnd, 0).UTC(),
		Start:               time.Unix(out.Start, 0).UTC(),
		End:                 time.Unix(out.End, 0).UTC(),
		QuestionsPerSession: out.QuestionsPerSession,
		TimePerQuestion:     out.TimePerQuestion,
		Settled:             out.Settled,
		TotalPool:           out.TotalPoolMicro,
		PlayerCount:         out.PlayerCount,
	}, nil
}

func (c *Client) PlayerInfo(ctx context.Context, tournamentID int64, addr string) (bool, int64, error) {
	var out struct {
		Registered  bool  `json:"registered"`
		TotalPoints int64 `json:"totalPoints"`
	}
	path := fmt.Sprintf("/tournaments/%d/players/%s", tournamentID, strings.ToLower(addr))
	if err := c.get(ctx, path, &out); err != nil {
		return false, 0, err
	}
	return out.Registered, out.TotalPoints, nil
}

func (c *Client) PlayerPasses(ctx context.Context, tournamentID int64, addr string) (int, error) {
	var out struct {
		Passes int `json:"passes"`
	}
	path := fmt.Sprintf("/tournaments/%d/players/%s/passes", tournamentID, strings.ToLower(addr))
	if err := c.get(ctx, path, &out); err != nil {
		return 0, err
	}
	return out.Passes, nil
}

func (c *Client) RecordScore(ctx context.Context, tournamentID int64, addr string, points int) (string, error) {
	body := map[string]any{"address": strings.ToLower(addr), "points": points}
	var out settleResponse
	status, err := c.post(ctx, fmt.Sprintf("/tournaments/%d/record", tournamentID), body, &out)
	if err != nil {
		return "", err
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("record score failed (%d): %s", status, out.Error)
	}
	return out.TxHash, nil
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("relay returned %d: %s", e.status, e.body)
}

func isNotFound(err error) bool {
	se, ok := err.(*httpStatusError)
	return ok && se.status == http.StatusNotFound
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &httpStatusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))}
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// post decodes the response body for both success and error statuses, since
// the relay carries structured error codes in failure payloads.
func (c *Client) post(ctx context.Context, path string, body, out any) (int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("relay request: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return resp.StatusCode, fmt.Errorf("decode relay response: %w", err)
	}
	return resp.StatusCode, nil
}
