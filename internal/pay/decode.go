package pay

import (
	"encoding/binary"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Token2022ProgramID 也按 SPL Token 的 Transfer / TransferChecked 布局解码
var Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLuL5MjjXUbtQXq6Kk")

const (
	systemTransferDiscriminator uint32 = 2
	tokenTransferDiscriminator  uint8  = 3
	tokenCheckedDiscriminator   uint8  = 12
)

type InstructionKind int

const (
	KindUnrecognized InstructionKind = iota
	KindNativeTransfer
	KindTokenTransfer
	KindTokenTransferChecked
)

func (k InstructionKind) String() string {
	switch k {
	case KindNativeTransfer:
		return "native-transfer"
	case KindTokenTransfer:
		return "token-transfer"
	case KindTokenTransferChecked:
		return "token-transfer-checked"
	default:
		return "unrecognized"
	}
}

// DecodedInstruction 是指令的解码结果。Mint 和 Decimals 只在
// KindTokenTransferChecked 时有值。
type DecodedInstruction struct {
	Kind        InstructionKind
	Program     solana.PublicKey
	Source      solana.PublicKey
	Destination solana.PublicKey
	Authority   solana.PublicKey
	Mint        solana.PublicKey
	Amount      uint64
	Decimals    uint8
}

// DecodeInstruction 解码一条已编译的指令。无法识别的程序、数据长度不符、
// 账户索引越界都返回 KindUnrecognized，不返回错误。
func DecodeInstruction(keys []solana.PublicKey, ix CompiledInstruction) DecodedInstruction {
	if ix.ProgramIDIndex < 0 || ix.ProgramIDIndex >= len(keys) {
		return DecodedInstruction{}
	}
	program := keys[ix.ProgramIDIndex]
	accounts := make([]solana.PublicKey, 0, len(ix.Accounts))
	for _, idx := range ix.Accounts {
		if idx < 0 || idx >= len(keys) {
			return DecodedInstruction{Program: program}
		}
		accounts = append(accounts, keys[idx])
	}

	var out DecodedInstruction
	switch {
	case program.Equals(solana.SystemProgramID):
		out = decodeSystem(accounts, ix.Data)
	case program.Equals(solana.TokenProgramID), program.Equals(Token2022ProgramID):
		out = decodeToken(accounts, ix.Data)
	}
	out.Program = program
	return out
}

// system Transfer: u32 LE 判别值 2 + u64 lamports，账户 [from, to]
func decodeSystem(accounts []solana.PublicKey, data []byte) DecodedInstruction {
	if len(data) != 12 || len(accounts) < 2 {
		return DecodedInstruction{}
	}
	dec := bin.NewBinDecoder(data)
	typ, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil || typ != systemTransferDiscriminator {
		return DecodedInstruction{}
	}
	lamports, err := dec.ReadUint64(binary.LittleEndian)
	if err != nil {
		return DecodedInstruction{}
	}
	return DecodedInstruction{
		Kind:        KindNativeTransfer,
		Source:      accounts[0],
		Destination: accounts[1],
		Authority:   accounts[0],
		Amount:      lamports,
	}
}

// Transfer:        u8 3  + u64 amount，账户 [source, destination, authority, ...signers]
// TransferChecked: u8 12 + u64 amount + u8 decimals，账户 [source, mint, destination, authority, ...]
func decodeToken(accounts []solana.PublicKey, data []byte) DecodedInstruction {
	if len(data) == 0 {
		return DecodedInstruction{}
	}
	dec := bin.NewBinDecoder(data)
	typ, err := dec.ReadUint8()
	if err != nil {
		return DecodedInstruction{}
	}
	switch typ {
	case tokenTransferDiscriminator:
		if len(data) != 9 || len(accounts) < 3 {
			return DecodedInstruction{}
		}
		amount, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return DecodedInstruction{}
		}
		return DecodedInstruction{
			Kind:        KindTokenTransfer,
			Source:      accounts[0],
			Destination: accounts[1],
			Authority:   accounts[2],
			Amount:      amount,
		}
	case tokenCheckedDiscriminator:
		if len(data) != 10 || len(accounts) < 4 {
			return DecodedInstruction{}
		}
		amount, err := dec.ReadUint64(binary.LittleEndian)
		if err != nil {
			return DecodedInstruction{}
		}
		decimals, err := dec.ReadUint8()
		if err != nil {
			return DecodedInstruction{}
		}
		return DecodedInstruction{
			Kind:        KindTokenTransferChecked,
			Source:      accounts[0],
			Mint:        accounts[1],
			Destination: accounts[2],
			Authority:   accounts[3],
			Amount:      amount,
			Decimals:    decimals,
		}
	}
	return DecodedInstruction{}
}

// EncodeTokenTransferChecked 构造 TransferChecked 指令数据，与 decodeToken 对应
func EncodeTokenTransferChecked(amount uint64, decimals uint8) []byte {
	data := make([]byte, 10)
	data[0] = tokenCheckedDiscriminator
	binary.LittleEndian.PutUint64(data[1:9], amount)
	data[9] = decimals
	return data
}

// EncodeSystemTransfer 构造 system Transfer 指令数据
func EncodeSystemTransfer(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], systemTransferDiscriminator)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}
