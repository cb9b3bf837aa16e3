package tron

import (
	"context"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/payoutd/internal/amount"
	"github.com/mbd888/payoutd/internal/chain"
	"github.com/mbd888/payoutd/internal/retry"
)

const (
	readAttempts  = 2
	readBaseDelay = 200 * time.Millisecond
	findPageLimit = 50
)

// GetBalance returns the TRX and USDT holdings of address.
func (c *Client) GetBalance(ctx context.Context, address string) (chain.Balance, error) {
	owner, err := ParseAddress(address)
	if err != nil {
		return chain.Balance{}, chain.Wrap(chain.KindRejected, "getaccount", err)
	}

	sun, err := retry.DoValue(ctx, readAttempts, readBaseDelay, func() (int64, error) {
		var acct struct {
			Balance int64 `json:"balance"`
		}
		if err := c.post(ctx, "wallet/getaccount", map[string]any{
			"address": owner.String(),
			"visible": true,
		}, &acct); err != nil {
			return 0, err
		}
		return acct.Balance, nil
	})
	if err != nil {
		return chain.Balance{}, err
	}

	token, err := c.tokenBalance(ctx, owner)
	if err != nil {
		return chain.Balance{}, err
	}

	return chain.Balance{
		Coin:  amount.FromSunInt64(sun),
		Token: amount.FromSun(token),
	}, nil
}

// GetResources returns the energy and bandwidth budget of address.
func (c *Client) GetResources(ctx context.Context, address string) (chain.Resources, error) {
	owner, err := ParseAddress(address)
	if err != nil {
		return chain.Resources{}, chain.Wrap(chain.KindRejected, "getaccountresource", err)
	}

	type accountResource struct {
		FreeNetLimit int64 `json:"freeNetLimit"`
		FreeNetUsed  int64 `json:"freeNetUsed"`
		NetLimit     int64 `json:"NetLimit"`
		NetUsed      int64 `json:"NetUsed"`
		EnergyLimit  int64 `json:"EnergyLimit"`
		EnergyUsed   int64 `json:"EnergyUsed"`
	}

	res, err := retry.DoValue(ctx, readAttempts, readBaseDelay, func() (accountResource, error) {
		var out accountResource
		err := c.post(ctx, "wallet/getaccountresource", map[string]any{
			"address": owner.String(),
			"visible": true,
		}, &out)
		return out, err
	})
	if err != nil {
		return chain.Resources{}, err
	}

	return chain.Resources{
		EnergyAvailable:    nonNegative(res.EnergyLimit - res.EnergyUsed),
		EnergyLimit:        res.EnergyLimit,
		BandwidthAvailable: nonNegative(res.FreeNetLimit-res.FreeNetUsed) + nonNegative(res.NetLimit-res.NetUsed),
		BandwidthLimit:     res.FreeNetLimit + res.NetLimit,
	}, nil
}

// AddressHoldsToken reports whether address has a non-zero USDT balance.
// Sending to an empty balance slot costs roughly twice the energy.
func (c *Client) AddressHoldsToken(ctx context.Context, address string) (bool, error) {
	owner, err := ParseAddress(address)
	if err != nil {
		return false, chain.Wrap(chain.KindInvalidDestination, "balanceOf", err)
	}
	bal, err := c.tokenBalance(ctx, owner)
	if err != nil {
		return false, err
	}
	return bal.Sign() > 0, nil
}

func (c *Client) tokenBalance(ctx context.Context, owner Address) (*big.Int, error) {
	param, err := packBalanceOf(owner)
	if err != nil {
		return nil, chain.Wrap(chain.KindRejected, "balanceOf", err)
	}

	return retry.DoValue(ctx, readAttempts, readBaseDelay, func() (*big.Int, error) {
		var out struct {
			ConstantResult []string `json:"constant_result"`
			Result         struct {
				Result  bool   `json:"result"`
				Message string `json:"message"`
			} `json:"result"`
		}
		if err := c.post(ctx, "wallet/triggerconstantcontract", map[string]any{
			"owner_address":     owner.String(),
			"contract_address":  c.usdt.String(),
			"function_selector": "balanceOf(address)",
			"parameter":         hex.EncodeToString(param),
			"visible":           true,
		}, &out); err != nil {
			return nil, err
		}
		if !out.Result.Result || len(out.ConstantResult) == 0 {
			return nil, retry.Permanent(chain.Errorf(chain.KindRejected, "balanceOf", "%s", decodeMessage(out.Result.Message)))
		}
		raw, err := hex.DecodeString(out.ConstantResult[0])
		if err != nil {
			return nil, retry.Permanent(chain.Wrap(chain.KindRejected, "balanceOf", err))
		}
		return new(big.Int).SetBytes(raw), nil
	})
}

// SubmitTransfer builds, signs, and broadcasts a transfer. Failures before
// broadcast are safe to retry. A broadcast whose outcome is unknown returns
// KindAmbiguousSubmission carrying the transaction ID.
func (c *Client) SubmitTransfer(ctx context.Context, cred chain.Credential, req chain.TransferRequest) (string, error) {
	to, err := ParseAddress(req.To)
	if err != nil {
		return "", chain.Wrap(chain.KindInvalidDestination, "validate", err)
	}
	key, from, err := KeyPair(cred.PrivateKey)
	if err != nil {
		return "", chain.Wrap(chain.KindRejected, "sign", err)
	}
	if cred.Address != "" && cred.Address != from.String() {
		return "", chain.Errorf(chain.KindRejected, "sign", "credential does not match wallet %s", cred.Address)
	}
	if from == to {
		return "", chain.Errorf(chain.KindInvalidDestination, "validate", "destination is the sending wallet")
	}
	sun := amount.ToSun(req.Amount)
	if sun.Sign() <= 0 {
		return "", chain.Errorf(chain.KindRejected, "validate", "amount %s below 1 SUN", req.Amount)
	}

	var tx map[string]json.RawMessage
	switch req.Asset {
	case chain.AssetTRX:
		if !sun.IsInt64() {
			return "", chain.Errorf(chain.KindRejected, "validate", "amount %s overflows", req.Amount)
		}
		tx, err = c.createTRXTransfer(ctx, from, to, sun.Int64())
	case chain.AssetUSDT:
		tx, err = c.createTokenTransfer(ctx, from, to, sun)
	default:
		return "", chain.Errorf(chain.KindRejected, "validate", "unsupported asset %q", req.Asset)
	}
	if err != nil {
		return "", err
	}

	txID, err := signTransaction(tx, key)
	if err != nil {
		return "", chain.Wrap(chain.KindRejected, "sign", err)
	}

	if err := c.broadcast(ctx, tx, txID); err != nil {
		return "", err
	}
	return txID, nil
}

func (c *Client) createTRXTransfer(ctx context.Context, from, to Address, sun int64) (map[string]json.RawMessage, error) {
	var tx map[string]json.RawMessage
	if err := c.post(ctx, "wallet/createtransaction", map[string]any{
		"owner_address": from.String(),
		"to_address":    to.String(),
		"amount":        sun,
		"visible":       true,
	}, &tx); err != nil {
		return nil, err
	}
	if raw, ok := tx["Error"]; ok {
		var msg string
		_ = json.Unmarshal(raw, &msg)
		return nil, classifyNodeMessage("createtransaction", "", msg)
	}
	return tx, nil
}

func (c *Client) createTokenTransfer(ctx context.Context, from, to Address, sun *big.Int) (map[string]json.RawMessage, error) {
	param, err := packTransfer(to, sun)
	if err != nil {
		return nil, chain.Wrap(chain.KindRejected, "triggersmartcontract", err)
	}

	var out struct {
		Result struct {
			Result  bool   `json:"result"`
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"result"`
		Transaction map[string]json.RawMessage `json:"transaction"`
	}
	if err := c.post(ctx, "wallet/triggersmartcontract", map[string]any{
		"owner_address":     from.String(),
		"contract_address":  c.usdt.String(),
		"function_selector": "transfer(address,uint256)",
		"parameter":         hex.EncodeToString(param),
		"fee_limit":         c.feeLimit,
		"call_value":        0,
		"visible":           true,
	}, &out); err != nil {
		return nil, err
	}
	if !out.Result.Result || out.Transaction == nil {
		return nil, classifyNodeMessage("triggersmartcontract", out.Result.Code, decodeMessage(out.Result.Message))
	}
	return out.Transaction, nil
}

// signTransaction checks the node-built txID against raw_data_hex and
// attaches a secp256k1 signature over it.
func signTransaction(tx map[string]json.RawMessage, key *ecdsa.PrivateKey) (string, error) {
	var txID, rawHex string
	if err := json.Unmarshal(tx["txID"], &txID); err != nil || txID == "" {
		return "", errors.New("transaction missing txID")
	}
	if err := json.Unmarshal(tx["raw_data_hex"], &rawHex); err != nil || rawHex == "" {
		return "", errors.New("transaction missing raw_data_hex")
	}

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("raw_data_hex: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != strings.ToLower(txID) {
		return "", errors.New("txID does not match raw_data_hex")
	}

	sig, err := crypto.Sign(sum[:], key)
	if err != nil {
		return "", err
	}
	sigJSON, err := json.Marshal([]string{hex.EncodeToString(sig)})
	if err != nil {
		return "", err
	}
	tx["signature"] = sigJSON
	return txID, nil
}

func (c *Client) broadcast(ctx context.Context, tx map[string]json.RawMessage, txID string) error {
	var out struct {
		Result  bool   `json:"result"`
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, "wallet/broadcasttransaction", tx, &out); err != nil {
		// Every node may or may not have relayed it. Only a status query can tell.
		return &chain.Error{Kind: chain.KindAmbiguousSubmission, Op: "broadcast", TxRef: txID, Err: err}
	}
	if out.Result || out.Code == "DUP_TRANSACTION_ERROR" {
		return nil
	}
	return classifyNodeMessage("broadcast", out.Code, decodeMessage(out.Message))
}

// classifyNodeMessage maps a node rejection onto the error taxonomy.
func classifyNodeMessage(op, code, msg string) error {
	lower := strings.ToLower(msg)
	kind := chain.KindRejected

	switch {
	case strings.Contains(lower, "balance is not sufficient"),
		strings.Contains(lower, "no owneraccount"),
		strings.Contains(lower, "account not found"):
		kind = chain.KindInsufficientBalance
	case code == "BANDWITH_ERROR",
		strings.Contains(lower, "account resource insufficient"),
		strings.Contains(lower, "not enough energy"):
		kind = chain.KindEnergyUnavailable
	case code == "SERVER_BUSY",
		code == "NOT_ENOUGH_EFFECTIVE_CONNECTION",
		code == "TRANSACTION_EXPIRATION_ERROR",
		code == "NO_CONNECTION":
		kind = chain.KindNodeUnreachable
	case strings.Contains(lower, "invalid toaddress"),
		strings.Contains(lower, "invalid address"),
		strings.Contains(lower, "cannot transfer trx to yourself"):
		kind = chain.KindInvalidDestination
	}

	if code != "" {
		return chain.Errorf(kind, op, "%s: %s", code, msg)
	}
	return chain.Errorf(kind, op, "%s", msg)
}

// GetTransactionStatus reports confirmed once the transaction is in a block
// with a successful receipt.
func (c *Client) GetTransactionStatus(ctx context.Context, txRef string) (chain.TxStatus, error) {
	if txRef == "" {
		return chain.TxUnknown, nil
	}

	type txInfo struct {
		ID          string `json:"id"`
		BlockNumber int64  `json:"blockNumber"`
		Result      string `json:"result"`
		Receipt     struct {
			Result string `json:"result"`
		} `json:"receipt"`
	}
	info, err := retry.DoValue(ctx, readAttempts, readBaseDelay, func() (txInfo, error) {
		var out txInfo
		err := c.post(ctx, "wallet/gettransactioninfobyid", map[string]any{"value": txRef}, &out)
		return out, err
	})
	if err != nil {
		return chain.TxUnknown, err
	}

	if info.ID != "" {
		if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
			return chain.TxFailed, nil
		}
		return chain.TxConfirmed, nil
	}

	// Not in a block yet. Known to the node means pending.
	var tx struct {
		TxID string `json:"txID"`
	}
	if err := c.post(ctx, "wallet/gettransactionbyid", map[string]any{"value": txRef}, &tx); err != nil {
		return chain.TxUnknown, err
	}
	if tx.TxID != "" {
		return chain.TxPending, nil
	}

	// Broadcast but not yet in a block: only the node's pending pool knows it.
	// Not every node exposes the pool, so a failed lookup stays unknown.
	var pending struct {
		TxID string `json:"txID"`
	}
	if err := c.post(ctx, "wallet/gettransactionfrompending", map[string]any{"value": txRef}, &pending); err != nil {
		c.logger.Debug("pending pool lookup failed", "tx", txRef, "error", err)
		return chain.TxUnknown, nil
	}
	if pending.TxID != "" {
		return chain.TxPending, nil
	}
	return chain.TxUnknown, nil
}

// FindTransfer scans recent outgoing transfers of address via the TronGrid
// v1 account API.
func (c *Client) FindTransfer(ctx context.Context, address string, req chain.TransferRequest, since time.Time) (string, chain.TxStatus, error) {
	if _, err := ParseAddress(address); err != nil {
		return "", chain.TxUnknown, chain.Wrap(chain.KindRejected, "find", err)
	}
	to, err := ParseAddress(req.To)
	if err != nil {
		return "", chain.TxUnknown, chain.Wrap(chain.KindInvalidDestination, "find", err)
	}
	want := amount.ToSun(req.Amount)

	q := url.Values{}
	q.Set("only_from", "true")
	q.Set("limit", fmt.Sprint(findPageLimit))
	q.Set("min_timestamp", fmt.Sprint(since.UnixMilli()))

	switch req.Asset {
	case chain.AssetUSDT:
		q.Set("contract_address", c.usdt.String())
		var out struct {
			Data []struct {
				TransactionID string `json:"transaction_id"`
				To            string `json:"to"`
				Value         string `json:"value"`
			} `json:"data"`
		}
		if err := c.get(ctx, "v1/accounts/"+address+"/transactions/trc20?"+q.Encode(), &out); err != nil {
			return "", chain.TxUnknown, err
		}
		for _, t := range out.Data {
			v, ok := new(big.Int).SetString(t.Value, 10)
			if ok && t.To == to.String() && v.Cmp(want) == 0 {
				return t.TransactionID, chain.TxConfirmed, nil
			}
		}

	case chain.AssetTRX:
		var out struct {
			Data []struct {
				TxID string `json:"txID"`
				Ret  []struct {
					ContractRet string `json:"contractRet"`
				} `json:"ret"`
				RawData struct {
					Contract []struct {
						Type      string `json:"type"`
						Parameter struct {
							Value struct {
								Amount    int64  `json:"amount"`
								ToAddress string `json:"to_address"`
							} `json:"value"`
						} `json:"parameter"`
					} `json:"contract"`
				} `json:"raw_data"`
			} `json:"data"`
		}
		if err := c.get(ctx, "v1/accounts/"+address+"/transactions?"+q.Encode(), &out); err != nil {
			return "", chain.TxUnknown, err
		}
		for _, t := range out.Data {
			for _, ct := range t.RawData.Contract {
				if ct.Type != "TransferContract" {
					continue
				}
				dest, err := ParseHexAddress(ct.Parameter.Value.ToAddress)
				if err != nil || dest != to || big.NewInt(ct.Parameter.Value.Amount).Cmp(want) != 0 {
					continue
				}
				if len(t.Ret) > 0 && t.Ret[0].ContractRet != "SUCCESS" {
					return t.TxID, chain.TxFailed, nil
				}
				return t.TxID, chain.TxConfirmed, nil
			}
		}

	default:
		return "", chain.TxUnknown, chain.Errorf(chain.KindRejected, "find", "unsupported asset %q", req.Asset)
	}

	return "", chain.TxUnknown, nil
}

// decodeMessage turns the hex-encoded messages some endpoints return into text.
func decodeMessage(msg string) string {
	if msg == "" {
		return ""
	}
	if raw, err := hex.DecodeString(msg); err == nil {
		return string(raw)
	}
	return msg
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
