package identity

import (
	"context"
	"strconv"
	"strings"

	xerrors "AgentPay-Chain/internal/errors"
)

// Address 是参与方的结算地址，使用小写十六进制字符串表示。
type Address string

// ZeroAddress 表示未设置的地址。
const ZeroAddress Address = ""

// Normalize 统一地址的大小写与空白，便于比较。
func Normalize(addr Address) Address {
	return Address(strings.ToLower(strings.TrimSpace(string(addr))))
}

// IsZero 报告地址是否为空。
func (a Address) IsZero() bool {
	return Normalize(a) == ZeroAddress
}

// Directory 是身份协作方的只读接口。
type Directory interface {
	// OwnerOf 返回智能体的归属地址。
	OwnerOf(ctx context.Context, agentID uint64) (Address, error)
	// Exists 报告智能体是否已登记。
	Exists(ctx context.Context, agentID uint64) (bool, error)
}

// ErrAgentNotFound 表示目录中不存在该智能体。
var ErrAgentNotFound = xerrors.New(xerrors.CodeNotFound, "智能体不存在")

// NotFound 构造携带智能体编号的未找到错误。
func NotFound(agentID uint64) error {
	return xerrors.New(xerrors.CodeNotFound, "智能体不存在",
		xerrors.WithMetadata("agent_id", strconv.FormatUint(agentID, 10)))
}
