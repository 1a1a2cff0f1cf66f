package config

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseByteSize 解析人类可读的字节大小："10M"、"512K"、"1G"、"1024"。
// 单位不区分大小写，可带可选的 "B" 后缀。
func ParseByteSize(s string) (int64, error) {
	in := strings.TrimSpace(strings.ToUpper(s))
	if in == "" {
		return 0, fmt.Errorf("empty size")
	}

	mul := int64(1)
	in = strings.TrimSuffix(in, "B")
	switch {
	case strings.HasSuffix(in, "K"):
		mul = 1 << 10
		in = strings.TrimSuffix(in, "K")
	case strings.HasSuffix(in, "M"):
		mul = 1 << 20
		in = strings.TrimSuffix(in, "M")
	case strings.HasSuffix(in, "G"):
		mul = 1 << 30
		in = strings.TrimSuffix(in, "G")
	}

	n, err := strconv.ParseInt(strings.TrimSpace(in), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative size %q", s)
	}
	return n * mul, nil
}

// HumanReadableBytes 格式化字节数，用于错误提示（"Maximum size: 10M"）。
func HumanReadableBytes(n int64) string {
	switch {
	case n >= 1<<30 && n%(1<<30) == 0:
		return strconv.FormatInt(n>>30, 10) + "G"
	case n >= 1<<20 && n%(1<<20) == 0:
		return strconv.FormatInt(n>>20, 10) + "M"
	case n >= 1<<10 && n%(1<<10) == 0:
		return strconv.FormatInt(n>>10, 10) + "K"
	default:
		return strconv.FormatInt(n, 10) + "B"
	}
}
