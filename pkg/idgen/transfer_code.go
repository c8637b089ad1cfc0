package idgen

import (
	"crypto/rand"
	"fmt"

	"github.com/mr-tron/base58"
)

// transferCodeBytes 8 字节随机数，base58 编码后约 11 个字符
const transferCodeBytes = 8

// GenerateTransferCode 生成收款用的转账码
//
// 转账码对外公开，不能由账户ID推导，也不能按顺序猜测，因此不用雪花ID
func GenerateTransferCode() (string, error) {
	buf := make([]byte, transferCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("生成转账码失败: %w", err)
	}
	return base58.Encode(buf), nil
}
