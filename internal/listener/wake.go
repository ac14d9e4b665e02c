package listener

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/ws"

	"PayPeer/utils"
)

// SubscribeReference 使用 logsSubscribe + mentions 过滤器订阅提及 reference 的交易，
// 每收到一条通知就向返回的 channel 发一个信号（合并未消费的信号）。
// 订阅出错或 ctx 结束时 channel 被关闭，Listener 随后只靠轮询。
func SubscribeReference(ctx context.Context, client *ws.Client, reference solana.PublicKey, commitment rpc.CommitmentType, logger *utils.Logger) (<-chan struct{}, error) {
	sub, err := client.LogsSubscribeMentions(reference, commitment)
	if err != nil {
		return nil, fmt.Errorf("订阅日志失败: %w", err)
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer close(wake)
		defer sub.Unsubscribe()
		for {
			result, err := sub.Recv(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("日志通知接收失败 %s: %v", reference, err)
				}
				return
			}
			if result != nil {
				logger.Debug("收到交易日志通知: %s", result.Value.Signature)
			}
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	return wake, nil
}
