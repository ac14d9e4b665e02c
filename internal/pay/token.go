package pay

import "github.com/gagliardetto/solana-go"

// AssociatedTokenAddress 与 solana.FindAssociatedTokenAddress 相同，但支持 Token-2022 的 program id
func AssociatedTokenAddress(wallet, mint, program solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{wallet[:], program[:], mint[:]},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	return addr, err
}

// recipientTokenAccount 返回 recipient 在交易中出现的关联 token 账户。
// mint 可能属于 Token 或 Token-2022，两种派生都试；都不在 keys 中时返回经典 Token 的地址。
func recipientTokenAccount(keys []solana.PublicKey, recipient, mint solana.PublicKey) (solana.PublicKey, error) {
	var first solana.PublicKey
	for i, program := range []solana.PublicKey{solana.TokenProgramID, Token2022ProgramID} {
		addr, err := AssociatedTokenAddress(recipient, mint, program)
		if err != nil {
			return solana.PublicKey{}, err
		}
		if i == 0 {
			first = addr
		}
		for _, k := range keys {
			if k.Equals(addr) {
				return addr, nil
			}
		}
	}
	return first, nil
}
