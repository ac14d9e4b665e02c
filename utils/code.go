package utils

import (
	"encoding/base64"

	"github.com/gagliardetto/solana-go"
)

// EncodeUnsignedTx 序列化一笔尚未签名的交易。
// 钱包签名前，签名位必须按 NumRequiredSignatures 用零值占位。
func EncodeUnsignedTx(tx *solana.Transaction) (string, error) {
	required := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	enc, err := tx.MarshalBinary()
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}
