package importer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/LubyRuffy/freeloader/cookiestore"
)

// Options 是各来源的参数。
type Options struct {
	// Command 外部 cookie 提取工具，调用方式为 <command> --browser B --domain D，stdout 输出 JSON。
	Command string
	// File 浏览器插件等导出的 JSON 文件。
	File string
}

// ErrNoCookies 来源可用但没有找到任何 cookie。
var ErrNoCookies = errors.New("no cookies found")

// New 根据来源创建 Source。kind 允许：command/file/env/auto；空值按 auto 处理。
func New(kind string, opts Options) (Source, error) {
	k := strings.ToLower(strings.TrimSpace(kind))
	if k == "" {
		k = string(KindAuto)
	}
	switch Kind(k) {
	case KindCommand:
		if strings.TrimSpace(opts.Command) == "" {
			return nil, errors.New("import command is not configured")
		}
		return &commandSource{command: opts.Command}, nil
	case KindFile:
		if strings.TrimSpace(opts.File) == "" {
			return nil, errors.New("import file is not configured")
		}
		return &fileSource{path: opts.File}, nil
	case KindEnv:
		return &envSource{}, nil
	case KindAuto:
		var sources []Source
		if strings.TrimSpace(opts.Command) != "" {
			sources = append(sources, &commandSource{command: opts.Command})
		}
		if strings.TrimSpace(opts.File) != "" {
			sources = append(sources, &fileSource{path: opts.File})
		}
		sources = append(sources, &envSource{})
		return &autoSource{sources: sources}, nil
	default:
		return nil, fmt.Errorf("unsupported import source: %s", kind)
	}
}

type autoSource struct {
	sources []Source
}

func (s *autoSource) Import(ctx context.Context, browser, domain string) ([]cookiestore.Record, error) {
	var lastErr error
	for _, src := range s.sources {
		records, err := src.Import(ctx, browser, domain)
		if err == nil && len(records) > 0 {
			return records, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoCookies
}
