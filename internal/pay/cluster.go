package pay

import (
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

type Cluster string

const (
	MainnetBeta Cluster = "mainnet-beta"
	Devnet      Cluster = "devnet"
)

var (
	USDCMintMainnet = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
	USDCMintDevnet  = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
)

// ClusterConfig 某个集群的连接参数，显式传给各服务，不使用全局状态
type ClusterConfig struct {
	Name     Cluster
	RPCURL   string
	WSURL    string
	USDCMint solana.PublicKey
}

type Clusters map[Cluster]ClusterConfig

func DefaultClusters() Clusters {
	return Clusters{
		MainnetBeta: {
			Name:     MainnetBeta,
			RPCURL:   rpc.MainNetBeta_RPC,
			WSURL:    rpc.MainNetBeta_WS,
			USDCMint: USDCMintMainnet,
		},
		Devnet: {
			Name:     Devnet,
			RPCURL:   rpc.DevNet_RPC,
			WSURL:    rpc.DevNet_WS,
			USDCMint: USDCMintDevnet,
		},
	}
}

// ParseCluster 未知或为空的名字按 devnet 处理
func ParseCluster(s string) Cluster {
	switch Cluster(strings.ToLower(strings.TrimSpace(s))) {
	case MainnetBeta, "mainnet":
		return MainnetBeta
	default:
		return Devnet
	}
}

// Get 返回集群配置，未配置的集群回退到 devnet
func (c Clusters) Get(name string) ClusterConfig {
	if cfg, ok := c[ParseCluster(name)]; ok {
		return cfg
	}
	return c[Devnet]
}
