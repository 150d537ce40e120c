package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"sportsfetch/pkg/provider"
)

// maxKeyLen 超过该长度的键会被截断并追加摘要后缀，
// 避免超长查询参数生成过长的存储键。
const maxKeyLen = 200

// BuildKey 为一次上游请求构建规范化缓存键。
// 同一组参数无论传入顺序如何都生成相同的键。
// 格式: {provider}:{endpoint}?{k1}={v1}&{k2}={v2}
func BuildKey(id provider.ID, endpoint string, params map[string]string) string {
	var b strings.Builder
	b.WriteString(string(id))
	b.WriteByte(':')
	b.WriteString(canonicalize(strings.Trim(endpoint, "/")))

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('?')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte('&')
			}
			b.WriteString(canonicalize(k))
			b.WriteByte('=')
			b.WriteString(canonicalize(params[k]))
		}
	}

	key := b.String()
	if len(key) > maxKeyLen {
		sum := sha256.Sum256([]byte(key))
		key = key[:maxKeyLen-17] + "#" + hex.EncodeToString(sum[:8])
	}

	return key
}

// KeyPrefix 返回指定提供商所有缓存键的公共前缀，
// 供按提供商批量清除使用。
func KeyPrefix(id provider.ID) string {
	return string(id) + ":"
}

// canonicalize 对键片段做 Unicode NFC 归一化并去除空白。
// 球队、联赛名称等参数可能带有变音符号，不同客户端提交的
// 组合形式不同，归一化后才能命中同一条目。
func canonicalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
