package httputil

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/R3E-Network/neoraffle/internal/app/httpapi"
	"github.com/R3E-Network/neoraffle/internal/app/storage"
)

// RaffleClient wraps the raffle API routes.
type RaffleClient struct {
	*ServiceClient
}

// NewRaffleClient creates a client for the raffle API at cfg.BaseURL.
func NewRaffleClient(cfg ServiceClientConfig) *RaffleClient {
	return &RaffleClient{ServiceClient: NewServiceClient(cfg)}
}

// Summary fetches the aggregated raffle view.
func (c *RaffleClient) Summary(ctx context.Context) (*httpapi.Summary, error) {
	resp, err := c.Get(ctx, "/raffle")
	if err != nil {
		return nil, err
	}
	var out httpapi.Summary
	if err := DecodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Enter pays amount from player's balance and returns the entrant count. The
// client must carry a player token for player or an operator token.
func (c *RaffleClient) Enter(ctx context.Context, player string, amount int64) (int, error) {
	resp, err := c.Post(ctx, "/raffle/enter", map[string]any{"player": player, "amount": amount})
	if err != nil {
		return 0, err
	}
	var out struct {
		Entrants int `json:"entrants"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.Entrants, nil
}

// PerformUpkeep starts a draw and returns the randomness request id.
func (c *RaffleClient) PerformUpkeep(ctx context.Context) (uint64, error) {
	resp, err := c.Post(ctx, "/raffle/upkeep", nil)
	if err != nil {
		return 0, err
	}
	var out struct {
		RequestID uint64 `json:"request_id"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.RequestID, nil
}

// Fulfill delivers randomness for requestID. Words are decimal or 0x hex;
// when none are given the server derives them.
func (c *RaffleClient) Fulfill(ctx context.Context, requestID uint64, words ...string) (string, error) {
	body := map[string]any{"request_id": requestID}
	if len(words) > 0 {
		body["random_words"] = words
	}
	resp, err := c.Post(ctx, "/raffle/fulfill", body)
	if err != nil {
		return "", err
	}
	var out struct {
		RecentWinner string `json:"recent_winner"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return "", err
	}
	return out.RecentWinner, nil
}

// Deposit credits amount to addr and returns the new balance.
func (c *RaffleClient) Deposit(ctx context.Context, addr string, amount int64) (int64, error) {
	resp, err := c.Post(ctx, "/accounts/"+url.PathEscape(addr)+"/deposit", map[string]int64{"amount": amount})
	if err != nil {
		return 0, err
	}
	var out struct {
		Balance int64 `json:"balance"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return 0, err
	}
	return out.Balance, nil
}

// Pending lists randomness requests awaiting delivery.
func (c *RaffleClient) Pending(ctx context.Context) ([]uint64, error) {
	resp, err := c.Get(ctx, "/raffle/requests")
	if err != nil {
		return nil, err
	}
	var out struct {
		Pending []uint64 `json:"pending"`
	}
	if err := DecodeResponse(resp, &out); err != nil {
		return nil, err
	}
	return out.Pending, nil
}

// Winners returns up to limit past winners, newest first.
func (c *RaffleClient) Winners(ctx context.Context, limit int) ([]storage.Winner, error) {
	path := "/raffle/winners"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	resp, err := c.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	var out []storage.Winner
	if err := DecodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("winners: %w", err)
	}
	return out, nil
}
