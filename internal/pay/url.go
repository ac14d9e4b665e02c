package pay

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
)

const URIScheme = "solana"

// TransferRequest 是一个转账请求的字段，钱包据此自行构造交易
type TransferRequest struct {
	Recipient solana.PublicKey
	// SPLToken 为 nil 表示原生 SOL
	SPLToken   *solana.PublicKey
	Amount     *decimal.Decimal
	References []solana.PublicKey
	Label      string
	Message    string
	Memo       string
}

// TransactionRequest 把交易构造交给 Link 指向的服务端接口：
// GET 返回 {label, icon}，POST {account} 返回 {transaction}
type TransactionRequest struct {
	Link    *url.URL
	Label   string
	Message string
	// AllowInsecure 允许 http 链接，只用于本地开发
	AllowInsecure bool
}

// EncodeTransferRequest builds solana:<recipient>?amount=…&spl-token=…&reference=…&label=…&message=…&memo=…
// Amount is written in full decimal precision.
func EncodeTransferRequest(req TransferRequest) (*url.URL, error) {
	if req.Recipient.IsZero() {
		return nil, ErrMissingRecipient
	}

	var params []string
	add := func(key, value string) {
		params = append(params, key+"="+url.QueryEscape(value))
	}
	if req.Amount != nil {
		if req.Amount.IsNegative() {
			return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
		}
		add("amount", req.Amount.String())
	}
	if req.SPLToken != nil {
		add("spl-token", req.SPLToken.String())
	}
	for _, ref := range req.References {
		add("reference", ref.String())
	}
	if req.Label != "" {
		add("label", req.Label)
	}
	if req.Message != "" {
		add("message", req.Message)
	}
	if req.Memo != "" {
		add("memo", req.Memo)
	}

	return &url.URL{
		Scheme:   URIScheme,
		Opaque:   req.Recipient.String(),
		RawQuery: strings.Join(params, "&"),
	}, nil
}

// EncodeTransactionRequest builds solana:<link>. A link with a query string is
// percent-encoded as a whole so wallets don't mix its parameters with ours.
func EncodeTransactionRequest(req TransactionRequest) (*url.URL, error) {
	if req.Link == nil || req.Link.Host == "" {
		return nil, ErrInvalidLink
	}
	switch req.Link.Scheme {
	case "https":
	case "http":
		if !req.AllowInsecure {
			return nil, fmt.Errorf("%w: link must be https", ErrInvalidLink)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidLink, req.Link.Scheme)
	}

	link := req.Link.String()
	var pathname string
	if req.Link.RawQuery != "" {
		link = strings.Replace(link, "/?", "?", 1)
		pathname = strings.ReplaceAll(encodeURIComponent(link), "%3A", ":")
	} else {
		pathname = strings.TrimSuffix(link, "/")
	}

	var params []string
	if req.Label != "" {
		params = append(params, "label="+url.QueryEscape(req.Label))
	}
	if req.Message != "" {
		params = append(params, "message="+url.QueryEscape(req.Message))
	}

	return &url.URL{
		Scheme:   URIScheme,
		Opaque:   pathname,
		RawQuery: strings.Join(params, "&"),
	}, nil
}

func encodeURIComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
