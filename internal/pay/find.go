package pay

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// FindReference returns the newest transaction signature that mentions
// reference at the given commitment. Ordering is whatever the node's
// getSignaturesForAddress returns. ErrReferenceNotFound means "not yet".
func FindReference(ctx context.Context, ledger Ledger, reference solana.PublicKey, commitment rpc.CommitmentType) (*SignatureInfo, error) {
	sigs, err := ledger.FindSignatures(ctx, reference, commitment, 1)
	if err != nil {
		return nil, err
	}
	if len(sigs) == 0 {
		return nil, ErrReferenceNotFound
	}
	return &sigs[0], nil
}
