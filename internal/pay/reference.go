package pay

import "github.com/gagliardetto/solana-go"

// NewReference returns the public key of a freshly generated keypair. It is
// attached to a payment request so the resulting transaction can be found
// again; the private key is discarded.
func NewReference() (solana.PublicKey, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return solana.PublicKey{}, err
	}
	return key.PublicKey(), nil
}

func MustNewReference() solana.PublicKey {
	ref, err := NewReference()
	if err != nil {
		panic(err)
	}
	return ref
}
